package decoder

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/mailvault/mailvault/internal/models"
)

// crlf normalizes test fixtures to RFC 822 line endings.
func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func budgetMessage(t *testing.T) []byte {
	t.Helper()

	pdf := bytes.Repeat([]byte("%"), 2048)
	encoded := base64.StdEncoding.EncodeToString(pdf)

	var b strings.Builder
	b.WriteString("Message-ID: <budget-reply@x>\n")
	b.WriteString("Date: Mon, 02 Jan 2006 15:04:05 +0000\n")
	b.WriteString("From: Alice Example <alice@example.com>\n")
	b.WriteString("To: Bob Example <bob@example.com>\n")
	b.WriteString("Subject: Re: Budget\n")
	b.WriteString("In-Reply-To: <a@x>\n")
	b.WriteString("References: <a@x> <b@x>\n")
	b.WriteString("MIME-Version: 1.0\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=\"frontier\"\n")
	b.WriteString("\n")
	b.WriteString("--frontier\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\n")
	b.WriteString("\n")
	b.WriteString("Hi\n")
	b.WriteString("--frontier\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\n")
	b.WriteString("\n")
	b.WriteString("<p>Hi</p>\n")
	b.WriteString("--frontier\n")
	b.WriteString("Content-Type: application/pdf; name=\"report.pdf\"\n")
	b.WriteString("Content-Disposition: attachment; filename=\"report.pdf\"\n")
	b.WriteString("Content-Transfer-Encoding: base64\n")
	b.WriteString("\n")
	for i := 0; i < len(encoded); i += 76 {
		end := i + 76
		if end > len(encoded) {
			end = len(encoded)
		}
		b.WriteString(encoded[i:end] + "\n")
	}
	b.WriteString("--frontier--\n")

	return crlf(b.String())
}

func TestDecodeBudgetScenario(t *testing.T) {
	msg, err := Decode(budgetMessage(t))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if msg.MessageID != "budget-reply@x" {
		t.Errorf("Expected message id budget-reply@x, got %q", msg.MessageID)
	}
	if msg.Subject != "Re: Budget" {
		t.Errorf("Expected subject 'Re: Budget', got %q", msg.Subject)
	}
	if msg.InReplyTo != "a@x" {
		t.Errorf("Expected in_reply_to a@x, got %q", msg.InReplyTo)
	}

	if len(msg.References) != 2 {
		t.Fatalf("Expected 2 references, got %v", msg.References)
	}
	if msg.References[0] != "a@x" || msg.References[1] != "b@x" {
		t.Errorf("Expected references [a@x b@x] in order, got %v", msg.References)
	}

	if msg.BodyText != "Hi" {
		t.Errorf("Expected body text 'Hi', got %q", msg.BodyText)
	}
	if msg.BodyHTML != "<p>Hi</p>" {
		t.Errorf("Expected body HTML '<p>Hi</p>', got %q", msg.BodyHTML)
	}

	if len(msg.Attachments) != 1 {
		t.Fatalf("Expected 1 attachment, got %+v", msg.Attachments)
	}
	att := msg.Attachments[0]
	if att.Filename != "report.pdf" {
		t.Errorf("Expected filename report.pdf, got %q", att.Filename)
	}
	if att.ContentType != "application/pdf" {
		t.Errorf("Expected content type application/pdf, got %q", att.ContentType)
	}
	if att.Size != 2048 {
		t.Errorf("Expected decoded size 2048, got %d", att.Size)
	}

	if msg.SenderName != "Alice Example" || msg.SenderAddress != "alice@example.com" {
		t.Errorf("Expected sender Alice Example <alice@example.com>, got %q <%q>", msg.SenderName, msg.SenderAddress)
	}

	if msg.DateSent == nil {
		t.Fatal("Expected a parsed date")
	}
	expected := time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)
	if !msg.DateSent.Equal(expected) {
		t.Errorf("Expected date %v, got %v", expected, msg.DateSent)
	}
}

func TestDecodeEncodedHeaders(t *testing.T) {
	t.Run("mixed charsets within one subject", func(t *testing.T) {
		raw := crlf(`Message-ID: <enc@example.com>
From: =?ISO-8859-1?Q?Andr=E9?= <andre@example.com>
Subject: =?ISO-8859-1?Q?Caf=E9_?==?UTF-8?B?bmHDr3Zl?=
Content-Type: text/plain; charset=utf-8

Body
`)
		msg, err := Decode(raw)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if msg.Subject != "Café naïve" {
			t.Errorf("Expected 'Café naïve', got %q", msg.Subject)
		}
		if msg.SenderName != "André" {
			t.Errorf("Expected sender name André, got %q", msg.SenderName)
		}
	})

	t.Run("unknown charset never fails the message", func(t *testing.T) {
		raw := crlf(`Message-ID: <unk@example.com>
Subject: =?x-no-such-charset?Q?Hello?=
Content-Type: text/plain

Body
`)
		msg, err := Decode(raw)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if !strings.Contains(msg.Subject, "Hello") {
			t.Errorf("Expected best-effort subject containing 'Hello', got %q", msg.Subject)
		}
	})
}

func TestDecodeRecipients(t *testing.T) {
	raw := crlf(`Message-ID: <rcpt@example.com>
From: Alice <alice@example.com>
To: Bob <bob@example.com>, carol@example.com
Cc: =?UTF-8?B?RMOhdmlk?= <david@example.com>
Reply-To: replies@example.com
Content-Type: text/plain

Body
`)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	byRole := make(map[models.RecipientRole][]Recipient)
	for _, r := range msg.Recipients {
		byRole[r.Role] = append(byRole[r.Role], r)
	}

	if len(byRole[models.RoleTo]) != 2 {
		t.Fatalf("Expected 2 To recipients, got %+v", byRole[models.RoleTo])
	}
	if byRole[models.RoleTo][0].Name != "Bob" || byRole[models.RoleTo][0].Address != "bob@example.com" {
		t.Errorf("Unexpected first To recipient: %+v", byRole[models.RoleTo][0])
	}
	if byRole[models.RoleTo][1].Address != "carol@example.com" {
		t.Errorf("Expected bare address carol@example.com, got %+v", byRole[models.RoleTo][1])
	}

	if len(byRole[models.RoleCc]) != 1 || byRole[models.RoleCc][0].Name != "Dávid" {
		t.Errorf("Expected decoded Cc name Dávid, got %+v", byRole[models.RoleCc])
	}
	if len(byRole[models.RoleReplyTo]) != 1 {
		t.Errorf("Expected 1 Reply-To recipient, got %+v", byRole[models.RoleReplyTo])
	}

	// Absent header: zero rows, not an error.
	if len(byRole[models.RoleBcc]) != 0 {
		t.Errorf("Expected no Bcc recipients, got %+v", byRole[models.RoleBcc])
	}
}

func TestDecodeThreading(t *testing.T) {
	t.Run("references without angle brackets fall back to whitespace split", func(t *testing.T) {
		raw := crlf(`Message-ID: <legacy@example.com>
References: a@x b@x c@x
Content-Type: text/plain

Body
`)
		msg, err := Decode(raw)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if len(msg.References) != 3 || msg.References[0] != "a@x" || msg.References[2] != "c@x" {
			t.Errorf("Expected [a@x b@x c@x], got %v", msg.References)
		}
	})

	t.Run("first token wins for a mangled In-Reply-To", func(t *testing.T) {
		raw := crlf(`Message-ID: <mangled@example.com>
In-Reply-To: <first@x> <second@x>
Content-Type: text/plain

Body
`)
		msg, err := Decode(raw)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if msg.InReplyTo != "first@x" {
			t.Errorf("Expected first@x, got %q", msg.InReplyTo)
		}
	})

	t.Run("no threading headers yields empty values", func(t *testing.T) {
		raw := crlf(`Message-ID: <orphan@example.com>
Content-Type: text/plain

Body
`)
		msg, err := Decode(raw)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if msg.InReplyTo != "" || len(msg.References) != 0 {
			t.Errorf("Expected no threading, got in_reply_to=%q references=%v", msg.InReplyTo, msg.References)
		}
	})
}

func TestDecodeLeftoverHeaders(t *testing.T) {
	raw := crlf(`Message-ID: <hdr@example.com>
From: alice@example.com
Subject: Headers
Date: Mon, 02 Jan 2006 15:04:05 +0000
Received: from relay1.example.com by mx.example.com
Received: from relay2.example.com by relay1.example.com
X-Mailer: TestMailer 1.0
Content-Type: text/plain

Body
`)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	names := make(map[string]int)
	for _, h := range msg.Headers {
		names[strings.ToLower(h.Name)]++
	}

	// The first-class fields never appear in the generic header list.
	for _, excluded := range []string{"message-id", "from", "subject", "date"} {
		if names[excluded] != 0 {
			t.Errorf("Excluded header %q leaked into the header list", excluded)
		}
	}

	if names["received"] != 2 {
		t.Errorf("Expected 2 Received rows, got %d", names["received"])
	}
	if names["x-mailer"] != 1 {
		t.Errorf("Expected 1 X-Mailer row, got %d", names["x-mailer"])
	}

	// Repeated headers keep their source order.
	var received []string
	for _, h := range msg.Headers {
		if strings.EqualFold(h.Name, "Received") {
			received = append(received, h.Value)
		}
	}
	if len(received) == 2 && !strings.Contains(received[0], "relay1.example.com by mx") {
		t.Errorf("Expected source order for repeated headers, got %v", received)
	}
}

func TestDecodeMultipleBodyParts(t *testing.T) {
	raw := crlf(`Message-ID: <multi@example.com>
Content-Type: multipart/mixed; boundary="b"

--b
Content-Type: text/plain

Part one
--b
Content-Type: text/plain

Part two
--b--
`)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.BodyText != "Part one\nPart two" {
		t.Errorf("Expected concatenated parts in document order, got %q", msg.BodyText)
	}
}

func TestDecodeMissingMessageID(t *testing.T) {
	raw := crlf(`From: alice@example.com
Subject: No id
Content-Type: text/plain

Body
`)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode must tolerate a missing Message-ID: %v", err)
	}
	if msg.MessageID != "" {
		t.Errorf("Expected empty message id, got %q", msg.MessageID)
	}
}

func TestDecodeMalformedMessage(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Error("Expected an error for empty input")
	}
}

func TestParseMessageID(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"<a@x>", "a@x"},
		{"  <a@x>  ", "a@x"},
		{"a@x", "a@x"},
		{"", ""},
		{"<>", ""},
	}
	for _, tt := range tests {
		if got := ParseMessageID(tt.raw); got != tt.want {
			t.Errorf("ParseMessageID(%q): expected %q, got %q", tt.raw, tt.want, got)
		}
	}
}
