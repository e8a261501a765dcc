package mail

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	raw := []byte("From: alice@example.com\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: a folded\r\n" +
		"\tsubject line\r\n" +
		"\r\n" +
		"The body.\r\n")

	msg := Parse(raw)

	if got := msg.Headers.Get("From"); got != "alice@example.com" {
		t.Errorf("From = %q", got)
	}
	if got := msg.Headers.Get("Subject"); got != "a folded subject line" {
		t.Errorf("Subject = %q, folding not unfolded", got)
	}
	if string(msg.Body) != "The body.\r\n" {
		t.Errorf("Body = %q", msg.Body)
	}
}

func TestParseBareLF(t *testing.T) {
	msg := Parse([]byte("Subject: lf only\n\nbody\n"))

	if got := msg.Headers.Get("Subject"); got != "lf only" {
		t.Errorf("Subject = %q", got)
	}
	if string(msg.Body) != "body\n" {
		t.Errorf("Body = %q", msg.Body)
	}
}

func TestParseNoSeparator(t *testing.T) {
	raw := []byte("just text with no header section")
	msg := Parse(raw)

	if len(msg.Headers) != 0 {
		t.Errorf("Headers = %v, want none", msg.Headers)
	}
	if !bytes.Equal(msg.Body, raw) {
		t.Errorf("Body = %q, want all input", msg.Body)
	}
}

func TestBytesRoundTrip(t *testing.T) {
	msg := &Message{
		Headers: Headers{
			{Name: "From", Value: "alice@example.com"},
			{Name: "Subject", Value: "hi"},
		},
		Body: []byte("body\r\n"),
	}

	parsed := Parse(msg.Bytes())
	if got := parsed.Headers.Get("Subject"); got != "hi" {
		t.Errorf("Subject after round trip = %q", got)
	}
	if string(parsed.Body) != "body\r\n" {
		t.Errorf("Body after round trip = %q", parsed.Body)
	}
}

func TestHeadersOrderAndDuplicates(t *testing.T) {
	var msg Message
	msg.AddHeader("Received", "from a")
	msg.AddHeader("Received", "from b")
	msg.AddHeader("Subject", "first")

	if got := msg.Headers.GetAll("Received"); len(got) != 2 || got[0] != "from a" {
		t.Errorf("GetAll(Received) = %v, order not preserved", got)
	}

	msg.SetHeader("Subject", "second")
	if got := msg.Headers.GetAll("Subject"); len(got) != 1 || got[0] != "second" {
		t.Errorf("GetAll(Subject) after SetHeader = %v", got)
	}
}

func TestExtractSender(t *testing.T) {
	var msg Message
	msg.AddHeader("From", "Alice <alice@example.com>")

	sender, err := ExtractSender(&msg)
	if err != nil {
		t.Fatalf("ExtractSender failed: %v", err)
	}
	if sender != "alice@example.com" {
		t.Errorf("sender = %q", sender)
	}

	// An explicit Sender wins over From.
	msg.AddHeader("Sender", "list@example.com")
	sender, _ = ExtractSender(&msg)
	if sender != "list@example.com" {
		t.Errorf("sender = %q, Sender header not preferred", sender)
	}
}

func TestExtractSenderResent(t *testing.T) {
	var msg Message
	msg.AddHeader("From", "alice@example.com")
	msg.AddHeader("Resent-Date", time.Now().Format(time.RFC1123Z))
	msg.AddHeader("Resent-From", "forwarder@example.com")

	sender, err := ExtractSender(&msg)
	if err != nil {
		t.Fatalf("ExtractSender failed: %v", err)
	}
	if sender != "forwarder@example.com" {
		t.Errorf("sender = %q, resent block not used", sender)
	}
}

func TestExtractAmbiguousResent(t *testing.T) {
	var msg Message
	msg.AddHeader("From", "alice@example.com")
	msg.AddHeader("Resent-Date", "Mon, 02 Jan 2006 15:04:05 -0700")
	msg.AddHeader("Resent-Date", "Tue, 03 Jan 2006 15:04:05 -0700")

	if _, err := ExtractSender(&msg); !errors.Is(err, ErrAmbiguousResent) {
		t.Errorf("ExtractSender error = %v, want ErrAmbiguousResent", err)
	}
	if _, err := ExtractRecipients(&msg); !errors.Is(err, ErrAmbiguousResent) {
		t.Errorf("ExtractRecipients error = %v, want ErrAmbiguousResent", err)
	}
}

func TestExtractRecipients(t *testing.T) {
	var msg Message
	msg.AddHeader("To", "bob@example.com, Carol <carol@example.com>")
	msg.AddHeader("Cc", "dave@example.com")
	msg.AddHeader("Bcc", "secret@example.com")

	recipients, err := ExtractRecipients(&msg)
	if err != nil {
		t.Fatalf("ExtractRecipients failed: %v", err)
	}

	want := []string{"bob@example.com", "carol@example.com", "dave@example.com", "secret@example.com"}
	if len(recipients) != len(want) {
		t.Fatalf("recipients = %v, want %v", recipients, want)
	}
	for i := range want {
		if recipients[i] != want[i] {
			t.Fatalf("recipients = %v, want %v", recipients, want)
		}
	}
}

func TestFlattenStripsBcc(t *testing.T) {
	var msg Message
	msg.AddHeader("From", "alice@example.com")
	msg.AddHeader("To", "bob@example.com")
	msg.AddHeader("Bcc", "secret@example.com")
	msg.Body = []byte("body\r\n")

	sender, recipients, body, err := Flatten(&msg)
	if err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}

	if sender != "alice@example.com" {
		t.Errorf("sender = %q", sender)
	}
	if len(recipients) != 2 {
		t.Errorf("recipients = %v, Bcc missing from envelope", recipients)
	}
	if strings.Contains(string(body), "secret@example.com") {
		t.Errorf("Bcc survived in wire form: %q", body)
	}
	// The original message keeps its Bcc header.
	if !msg.Headers.Has("Bcc") {
		t.Error("Flatten modified the original message")
	}
}

func TestBuilder(t *testing.T) {
	msg, err := NewBuilder().
		From("Alice <alice@example.com>").
		To("bob@example.com").
		Cc("carol@example.com").
		Subject("hello").
		TextBody("Hi Bob.\n").
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if got := msg.Headers.Get("From"); got != `"Alice" <alice@example.com>` {
		t.Errorf("From = %q", got)
	}
	if !msg.Headers.Has("Date") {
		t.Error("Date not autofilled")
	}
	id := msg.Headers.Get("Message-ID")
	if !strings.HasPrefix(id, "<") || !strings.HasSuffix(id, "@example.com>") {
		t.Errorf("Message-ID = %q, want <ulid@example.com>", id)
	}
	if got := msg.Headers.Get("MIME-Version"); got != "1.0" {
		t.Errorf("MIME-Version = %q", got)
	}
	if got := msg.Headers.Get("Content-Transfer-Encoding"); got != "7bit" {
		t.Errorf("Content-Transfer-Encoding = %q, want 7bit for ASCII body", got)
	}
	if string(msg.Body) != "Hi Bob.\r\n" {
		t.Errorf("Body = %q, line endings not normalized", msg.Body)
	}
}

func TestBuilderNonASCII(t *testing.T) {
	msg := NewBuilder().
		From("alice@example.com").
		To("bob@example.com").
		Subject("héllo wörld").
		TextBody("smörgåsbord\n").
		MustBuild()

	if got := msg.Headers.Get("Subject"); !strings.HasPrefix(got, "=?UTF-8?B?") {
		t.Errorf("Subject = %q, not RFC 2047 encoded", got)
	}
	if got := msg.Headers.Get("Content-Transfer-Encoding"); got != "8bit" {
		t.Errorf("Content-Transfer-Encoding = %q, want 8bit", got)
	}
}

func TestBuilderValidation(t *testing.T) {
	if _, err := NewBuilder().To("bob@example.com").Build(); err == nil {
		t.Error("Build accepted a message without From")
	}
	if _, err := NewBuilder().From("alice@example.com").Build(); err == nil {
		t.Error("Build accepted a message without recipients")
	}
}

func TestBuilderExplicitIDsKept(t *testing.T) {
	msg := NewBuilder().
		From("alice@example.com").
		To("bob@example.com").
		MessageID("custom@example.com").
		InReplyTo("<parent@example.com>").
		References("a@example.com", "<b@example.com>").
		Date(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)).
		MustBuild()

	if got := msg.Headers.Get("Message-ID"); got != "<custom@example.com>" {
		t.Errorf("Message-ID = %q", got)
	}
	if got := msg.Headers.Get("References"); got != "<a@example.com> <b@example.com>" {
		t.Errorf("References = %q", got)
	}
	if got := msg.Headers.Get("Date"); !strings.Contains(got, "2026") {
		t.Errorf("Date = %q, explicit date lost", got)
	}
}

func TestMessagePackRoundTrip(t *testing.T) {
	msg := &Message{
		Headers: Headers{
			{Name: "From", Value: "alice@example.com"},
			{Name: "Received", Value: "from a"},
			{Name: "Received", Value: "from b"},
		},
		Body: []byte("body bytes\r\n"),
	}

	data, err := msg.ToMessagePack()
	if err != nil {
		t.Fatalf("ToMessagePack failed: %v", err)
	}

	decoded, err := FromMessagePack(data)
	if err != nil {
		t.Fatalf("FromMessagePack failed: %v", err)
	}

	if len(decoded.Headers) != 3 {
		t.Fatalf("decoded headers = %v", decoded.Headers)
	}
	if got := decoded.Headers.GetAll("Received"); len(got) != 2 || got[0] != "from a" {
		t.Errorf("header order lost in round trip: %v", got)
	}
	if !bytes.Equal(decoded.Body, msg.Body) {
		t.Errorf("decoded body = %q", decoded.Body)
	}
}

func TestFromMessagePackGarbage(t *testing.T) {
	if _, err := FromMessagePack([]byte{0xc1, 0xff}); err == nil {
		t.Error("FromMessagePack accepted garbage input")
	}
}
