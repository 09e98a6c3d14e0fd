// Package decoder parses raw RFC 822 messages into the normalized form the
// persistence layer stores: decoded metadata, role-tagged recipients,
// threading identifiers, dual-format bodies and attachment descriptors.
package decoder

import (
	"bytes"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"github.com/mailvault/mailvault/internal/models"
)

// Message is one decoded message, ready to persist. Child rows carry no
// identifiers yet; those are assigned on insert.
type Message struct {
	// MessageID is the bare Message-ID without angle brackets, or empty when
	// the header is absent or blank.
	MessageID     string
	Subject       string
	SenderName    string
	SenderAddress string
	DateSent      *time.Time
	// InReplyTo is the bare parent Message-ID, empty when not a reply.
	InReplyTo string
	// References holds the ordered References chain, oldest ancestor first.
	References  []string
	BodyText    string
	BodyHTML    string
	Recipients  []Recipient
	Headers     []Header
	Attachments []Attachment
}

type Recipient struct {
	Role    models.RecipientRole
	Name    string
	Address string
}

type Header struct {
	Name  string
	Value string
}

type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
}

// excludedHeaders are the fields already modeled as first-class columns or
// tables; everything else lands in the generic headers table. Checked
// case-insensitively.
var excludedHeaders = map[string]struct{}{
	"message-id":  {},
	"subject":     {},
	"from":        {},
	"to":          {},
	"cc":          {},
	"bcc":         {},
	"reply-to":    {},
	"date":        {},
	"in-reply-to": {},
	"references":  {},
}

var messageIDPattern = regexp.MustCompile(`<([^>]+)>`)

// Decode parses raw message bytes into a Message. It returns an error only
// when the MIME structure is unreadable as a whole; a single bad part
// degrades to decoding the remaining parts (enmime substitutes a best-effort
// charset decode and records part-level errors without failing).
func Decode(raw []byte) (*Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse MIME structure: %w", err)
	}

	msg := &Message{
		MessageID:  ParseMessageID(env.GetHeader("Message-Id")),
		Subject:    env.GetHeader("Subject"),
		InReplyTo:  firstMessageID(env.GetHeader("In-Reply-To")),
		References: ParseMessageIDs(env.GetHeader("References")),
	}

	if date, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		utc := date.UTC()
		msg.DateSent = &utc
	}

	for _, role := range models.RecipientRoles {
		addresses, err := env.AddressList(string(role))
		if err != nil {
			// Absent or unparsable header: zero rows for this role.
			continue
		}
		for _, address := range addresses {
			if address.Address == "" {
				continue
			}
			msg.Recipients = append(msg.Recipients, Recipient{
				Role:    role,
				Name:    strings.TrimSpace(address.Name),
				Address: strings.TrimSpace(address.Address),
			})
		}
	}

	if sender := msg.firstRecipient(models.RoleFrom); sender != nil {
		msg.SenderName = sender.Name
		msg.SenderAddress = sender.Address
	}

	msg.BodyText = joinParts(env.Root.DepthMatchAll(matchBody("text/plain")))
	msg.BodyHTML = joinParts(env.Root.DepthMatchAll(matchBody("text/html")))

	msg.Attachments = collectAttachments(env)
	msg.Headers = collectHeaders(env)

	return msg, nil
}

func (m *Message) firstRecipient(role models.RecipientRole) *Recipient {
	for i := range m.Recipients {
		if m.Recipients[i].Role == role {
			return &m.Recipients[i]
		}
	}
	return nil
}

// matchBody matches inline leaf parts of the given content type.
func matchBody(contentType string) enmime.PartMatcher {
	return func(part *enmime.Part) bool {
		return part.ContentType == contentType &&
			!strings.EqualFold(part.Disposition, "attachment")
	}
}

// joinParts concatenates decoded part contents in document order. enmime has
// already converted each part to UTF-8 using its declared charset, sniffing
// the bytes when the declaration is missing or wrong.
func joinParts(parts []*enmime.Part) string {
	if len(parts) == 0 {
		return ""
	}
	contents := make([]string, 0, len(parts))
	for _, part := range parts {
		contents = append(contents, string(part.Content))
	}
	return strings.Join(contents, "\n")
}

// collectAttachments gathers parts with an attachment disposition as well as
// parts that are neither inline nor body material. Size is the decoded byte
// length, not the transfer-encoded length.
func collectAttachments(env *enmime.Envelope) []Attachment {
	parts := make([]*enmime.Part, 0, len(env.Attachments)+len(env.OtherParts))
	parts = append(parts, env.Attachments...)
	parts = append(parts, env.OtherParts...)

	var attachments []Attachment
	for _, part := range parts {
		attachments = append(attachments, Attachment{
			Filename:    part.FileName,
			ContentType: part.ContentType,
			Size:        int64(len(part.Content)),
		})
	}
	return attachments
}

// collectHeaders returns every header outside the excluded set as decoded
// text, keeping repeated fields as separate entries in source order.
func collectHeaders(env *enmime.Envelope) []Header {
	var headers []Header
	for _, key := range env.GetHeaderKeys() {
		if _, excluded := excludedHeaders[strings.ToLower(key)]; excluded {
			continue
		}
		for _, value := range env.GetHeaderValues(key) {
			headers = append(headers, Header{Name: key, Value: value})
		}
	}
	return headers
}

// ParseMessageID extracts a single bare Message-ID, stripping angle brackets
// and surrounding whitespace. Returns "" for absent or blank input.
func ParseMessageID(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "<>")
	return strings.TrimSpace(raw)
}

// ParseMessageIDs extracts an ordered list of bare Message-IDs from a
// References-style header: angle-bracketed tokens first, falling back to
// whitespace splitting when a legacy client omitted the brackets.
func ParseMessageIDs(raw string) []string {
	if raw == "" {
		return nil
	}

	var ids []string
	for _, match := range messageIDPattern.FindAllStringSubmatch(raw, -1) {
		if id := strings.TrimSpace(match[1]); id != "" {
			ids = append(ids, id)
		}
	}
	if ids != nil {
		return ids
	}

	for _, token := range strings.Fields(raw) {
		if id := ParseMessageID(token); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// firstMessageID returns the first Message-ID found in a header that should
// hold exactly one, tolerating clients that mangle several into it.
func firstMessageID(raw string) string {
	ids := ParseMessageIDs(raw)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}
