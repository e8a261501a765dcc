package mail

import (
	"encoding/base64"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/veldtlabs/shrike/utils"
)

// Builder provides a fluent API for constructing messages.
//
//	msg, err := mail.NewBuilder().
//		From("Alice <alice@example.com>").
//		To("bob@example.com").
//		Subject("hello").
//		TextBody("Hi Bob.\n").
//		Build()
type Builder struct {
	msg    *Message
	errors []error
}

// NewBuilder creates an empty message builder.
func NewBuilder() *Builder {
	return &Builder{msg: &Message{}}
}

// From sets the From header.
func (b *Builder) From(address string) *Builder {
	return b.addressHeader("From", address)
}

// Sender sets the Sender header (required when From lists multiple
// addresses).
func (b *Builder) Sender(address string) *Builder {
	return b.addressHeader("Sender", address)
}

// To adds recipients to the To header.
func (b *Builder) To(addresses ...string) *Builder {
	return b.addressListHeader("To", addresses)
}

// Cc adds recipients to the Cc header.
func (b *Builder) Cc(addresses ...string) *Builder {
	return b.addressListHeader("Cc", addresses)
}

// Bcc adds blind recipients. The Bcc header is stripped again by
// Flatten before the message goes on the wire; it exists only so the
// envelope recipients can be derived.
func (b *Builder) Bcc(addresses ...string) *Builder {
	return b.addressListHeader("Bcc", addresses)
}

// ReplyTo sets the Reply-To header.
func (b *Builder) ReplyTo(address string) *Builder {
	return b.addressHeader("Reply-To", address)
}

// Subject sets the Subject header, RFC 2047 encoding it when it
// contains non-ASCII characters.
func (b *Builder) Subject(subject string) *Builder {
	if utils.ContainsNonASCII(subject) {
		subject = encodeRFC2047(subject)
	}
	b.msg.SetHeader("Subject", subject)
	return b
}

// Header adds a custom header field.
func (b *Builder) Header(name, value string) *Builder {
	b.msg.AddHeader(name, value)
	return b
}

// MessageID sets an explicit Message-ID. Build generates one when
// this is not called.
func (b *Builder) MessageID(id string) *Builder {
	b.msg.SetHeader("Message-ID", angleBracket(id))
	return b
}

// InReplyTo sets the In-Reply-To header for threading.
func (b *Builder) InReplyTo(messageID string) *Builder {
	b.msg.SetHeader("In-Reply-To", angleBracket(messageID))
	return b
}

// References sets the References header for threading.
func (b *Builder) References(messageIDs ...string) *Builder {
	formatted := make([]string, len(messageIDs))
	for i, id := range messageIDs {
		formatted[i] = angleBracket(id)
	}
	b.msg.SetHeader("References", strings.Join(formatted, " "))
	return b
}

// Date sets the Date header. Build fills in the current time when
// this is not called.
func (b *Builder) Date(t time.Time) *Builder {
	b.msg.SetHeader("Date", t.Format(time.RFC1123Z))
	return b
}

// TextBody sets a text/plain UTF-8 body with CRLF line endings.
func (b *Builder) TextBody(body string) *Builder {
	return b.typedBody(body, "text/plain; charset=utf-8")
}

// HTMLBody sets a text/html UTF-8 body with CRLF line endings.
func (b *Builder) HTMLBody(body string) *Builder {
	return b.typedBody(body, "text/html; charset=utf-8")
}

// Body sets a raw body with an explicit content type and transfer
// encoding, untouched.
func (b *Builder) Body(body []byte, contentType, encoding string) *Builder {
	b.msg.Body = body
	b.msg.SetHeader("Content-Type", contentType)
	b.msg.SetHeader("Content-Transfer-Encoding", encoding)
	return b
}

// Build finalizes the message: validates that a sender and at least
// one recipient exist, and fills in Date, Message-ID and MIME-Version
// when missing.
func (b *Builder) Build() (*Message, error) {
	if len(b.errors) > 0 {
		return nil, fmt.Errorf("mail: builder errors: %v", b.errors)
	}

	if b.msg.Headers.Get("From") == "" {
		return nil, fmt.Errorf("mail: From address is required")
	}
	recipients, err := ExtractRecipients(b.msg)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("mail: at least one recipient is required")
	}

	if !b.msg.Headers.Has("Date") {
		b.msg.AddHeader("Date", time.Now().Format(time.RFC1123Z))
	}
	if !b.msg.Headers.Has("Message-ID") {
		b.msg.AddHeader("Message-ID", generateMessageID(b.msg))
	}
	if b.msg.Headers.Has("Content-Type") && !b.msg.Headers.Has("MIME-Version") {
		b.msg.AddHeader("MIME-Version", "1.0")
	}

	return b.msg, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Message {
	msg, err := b.Build()
	if err != nil {
		panic(err)
	}
	return msg
}

func (b *Builder) addressHeader(name, address string) *Builder {
	parsed, err := mail.ParseAddress(address)
	if err != nil {
		// SMTPUTF8 addresses fail net/mail parsing; take them as-is.
		b.msg.SetHeader(name, strings.TrimSpace(address))
		return b
	}
	b.msg.SetHeader(name, parsed.String())
	return b
}

func (b *Builder) addressListHeader(name string, addresses []string) *Builder {
	existing := b.msg.Headers.Get(name)
	joined := strings.Join(addresses, ", ")
	if existing != "" {
		joined = existing + ", " + joined
	}
	b.msg.SetHeader(name, joined)
	return b
}

func (b *Builder) typedBody(body, contentType string) *Builder {
	normalized := normalizeLineEndings(body)
	b.msg.Body = []byte(normalized)
	b.msg.SetHeader("Content-Type", contentType)
	if utils.ContainsNonASCII(normalized) {
		b.msg.SetHeader("Content-Transfer-Encoding", "8bit")
	} else {
		b.msg.SetHeader("Content-Transfer-Encoding", "7bit")
	}
	return b
}

// generateMessageID builds a globally unique Message-ID. ULIDs are
// time-ordered, which keeps IDs from the same sender sortable in logs.
func generateMessageID(m *Message) string {
	domain := "localhost"
	if from := m.Headers.Get("From"); from != "" {
		if parsed, err := mail.ParseAddress(from); err == nil {
			if _, d, found := strings.Cut(parsed.Address, "@"); found {
				domain = d
			}
		}
	}
	return fmt.Sprintf("<%s@%s>", ulid.Make().String(), domain)
}

func angleBracket(id string) string {
	if strings.HasPrefix(id, "<") {
		return id
	}
	return "<" + id + ">"
}

// encodeRFC2047 encodes a header value using RFC 2047 Base64 form.
func encodeRFC2047(s string) string {
	return "=?UTF-8?B?" + base64.StdEncoding.EncodeToString([]byte(s)) + "?="
}

// normalizeLineEndings converts LF, CR and CRLF endings to CRLF.
func normalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
