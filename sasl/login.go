package sasl

import "encoding/base64"

// Login is the obsolete but widely deployed LOGIN mechanism: username
// on the AUTH line, password in answer to the server's prompt.
type Login struct {
	username string
	password string
	sent     bool
}

// NewLogin creates a LOGIN mechanism with the given credentials.
func NewLogin(username, password string) *Login {
	return &Login{username: username, password: password}
}

func (l *Login) Name() string {
	return "login"
}

func (l *Login) Start() (string, error) {
	return base64.StdEncoding.EncodeToString([]byte(l.username)), nil
}

func (l *Login) Next(challenge string) (string, error) {
	// One prompt expected: the password request. The prompt text
	// varies between servers, so it is not inspected.
	if l.sent {
		return "", ErrUnexpectedChallenge
	}
	l.sent = true
	return base64.StdEncoding.EncodeToString([]byte(l.password)), nil
}
