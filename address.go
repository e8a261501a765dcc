package shrike

import (
	"net/mail"
	"strings"
)

// parseAddress extracts the addr-spec from a sender or recipient
// string, which may be a bare address or a full name-addr form like
// `Alice <alice@example.com>`. Input that net/mail cannot parse (for
// example SMTPUTF8 addresses) is passed through trimmed, leaving
// rejection to the server.
func parseAddress(address string) string {
	parsed, err := mail.ParseAddress(address)
	if err != nil {
		return strings.TrimSpace(address)
	}
	return parsed.Address
}

// quoteAddress renders an address for a MAIL FROM or RCPT TO argument:
// the extracted addr-spec wrapped in angle brackets. Input that cannot
// be parsed (source routes, SMTPUTF8) passes through trimmed, wrapped
// unless it already carries brackets. An empty sender becomes the null
// reverse-path "<>".
func quoteAddress(address string) string {
	if parsed, err := mail.ParseAddress(address); err == nil {
		return "<" + parsed.Address + ">"
	}

	trimmed := strings.TrimSpace(address)
	if strings.HasPrefix(trimmed, "<") {
		return trimmed
	}
	return "<" + trimmed + ">"
}
