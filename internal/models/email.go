package models

import "time"

type Folder struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	FullPath  string  `json:"full_path"`
	ParentID  *int64  `json:"parent_id,omitempty"`
	Delimiter *string `json:"delimiter,omitempty"`
}

// RecipientRole is the header a recipient was extracted from.
type RecipientRole string

const (
	RoleFrom    RecipientRole = "From"
	RoleTo      RecipientRole = "To"
	RoleCc      RecipientRole = "Cc"
	RoleBcc     RecipientRole = "Bcc"
	RoleReplyTo RecipientRole = "Reply-To"
)

// RecipientRoles lists every role in extraction order.
var RecipientRoles = []RecipientRole{RoleFrom, RoleTo, RoleCc, RoleBcc, RoleReplyTo}

type Email struct {
	ID            int64      `json:"id"`
	MessageID     *string    `json:"message_id,omitempty"`
	FolderID      int64      `json:"folder_id"`
	Subject       string     `json:"subject"`
	SenderName    string     `json:"sender_name"`
	SenderAddress string     `json:"sender_address"`
	DateSent      *time.Time `json:"date_sent,omitempty"`
	InReplyTo     string     `json:"in_reply_to"`
	BodyText      string     `json:"body_text"`
	BodyHTML      string     `json:"body_html"`
	RawSource     []byte     `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
}

type Recipient struct {
	ID      int64         `json:"id"`
	EmailID int64         `json:"email_id"`
	Role    RecipientRole `json:"role"`
	Name    string        `json:"name"`
	Address string        `json:"address"`
}

type Header struct {
	ID         int64  `json:"id"`
	EmailID    int64  `json:"email_id"`
	FieldName  string `json:"field_name"`
	FieldValue string `json:"field_value"`
}

type Attachment struct {
	ID          int64  `json:"id"`
	EmailID     int64  `json:"email_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Reference is one entry of a message's References chain. The referenced
// Message-ID is a bare string, not a foreign key: deleting an email removes
// its own Reference rows but never touches other emails in the thread.
type Reference struct {
	ID                  int64  `json:"id"`
	EmailID             int64  `json:"email_id"`
	ReferencedMessageID string `json:"referenced_message_id"`
	Position            int    `json:"position"`
}
