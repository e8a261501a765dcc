package mail

import (
	"errors"
	"net/mail"
	"strings"
)

// ErrAmbiguousResent is returned when a message carries more than one
// Resent-Date header. Multiple resent blocks make it impossible to
// tell which Resent-* fields form the current envelope (RFC 5322
// section 3.6.6).
var ErrAmbiguousResent = errors.New("mail: message has more than one Resent-Date header, envelope is ambiguous")

// ExtractSender determines the envelope sender from message headers:
// Sender if present, otherwise From. When the message has a single
// resent block, the Resent-Sender/Resent-From pair is used instead.
// Returns "" when the message names no sender.
func ExtractSender(m *Message) (string, error) {
	resent, err := isResent(m)
	if err != nil {
		return "", err
	}

	var value string
	if resent {
		value = m.Headers.Get("Resent-Sender")
		if value == "" {
			value = m.Headers.Get("Resent-From")
		}
	} else {
		value = m.Headers.Get("Sender")
		if value == "" {
			value = m.Headers.Get("From")
		}
	}
	if value == "" {
		return "", nil
	}

	addrs := parseAddressList(value)
	if len(addrs) == 0 {
		return "", nil
	}
	return addrs[0], nil
}

// ExtractRecipients determines the envelope recipients from the To,
// Cc and Bcc headers, or their Resent-* counterparts when the message
// has a single resent block.
func ExtractRecipients(m *Message) ([]string, error) {
	resent, err := isResent(m)
	if err != nil {
		return nil, err
	}

	fields := []string{"To", "Cc", "Bcc"}
	if resent {
		fields = []string{"Resent-To", "Resent-Cc", "Resent-Bcc"}
	}

	var recipients []string
	for _, field := range fields {
		for _, value := range m.Headers.GetAll(field) {
			recipients = append(recipients, parseAddressList(value)...)
		}
	}
	return recipients, nil
}

// Flatten produces everything needed to submit a message: the envelope
// sender, the envelope recipients, and the wire-form body with the
// Bcc and Resent-Bcc headers stripped so blind recipients stay blind.
// The message itself is not modified.
func Flatten(m *Message) (sender string, recipients []string, body []byte, err error) {
	sender, err = ExtractSender(m)
	if err != nil {
		return "", nil, nil, err
	}
	recipients, err = ExtractRecipients(m)
	if err != nil {
		return "", nil, nil, err
	}

	stripped := m.Clone()
	stripped.Headers = stripped.Headers.Del("Bcc").Del("Resent-Bcc")
	return sender, recipients, stripped.Bytes(), nil
}

// isResent reports whether the envelope should come from Resent-*
// headers, erroring when multiple resent blocks make that ambiguous.
func isResent(m *Message) (bool, error) {
	switch n := len(m.Headers.GetAll("Resent-Date")); {
	case n > 1:
		return false, ErrAmbiguousResent
	case n == 1:
		return true, nil
	}
	return false, nil
}

// parseAddressList extracts addr-specs from a header value. Values
// net/mail cannot parse (SMTPUTF8 addresses, sloppy producers) fall
// back to a comma split with whitespace trimmed.
func parseAddressList(value string) []string {
	parsed, err := mail.ParseAddressList(value)
	if err == nil {
		out := make([]string, 0, len(parsed))
		for _, a := range parsed {
			out = append(out, a.Address)
		}
		return out
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
