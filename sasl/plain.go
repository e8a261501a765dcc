package sasl

import "encoding/base64"

// Plain is the PLAIN mechanism (RFC 4616): identity and password in
// one NUL-separated initial response. Only safe over TLS.
type Plain struct {
	username string
	password string
}

// NewPlain creates a PLAIN mechanism with the given credentials.
func NewPlain(username, password string) *Plain {
	return &Plain{username: username, password: password}
}

func (p *Plain) Name() string {
	return "plain"
}

func (p *Plain) Start() (string, error) {
	raw := "\x00" + p.username + "\x00" + p.password
	return base64.StdEncoding.EncodeToString([]byte(raw)), nil
}

func (p *Plain) Next(challenge string) (string, error) {
	// PLAIN is single-shot; any challenge is a protocol violation.
	return "", ErrUnexpectedChallenge
}
