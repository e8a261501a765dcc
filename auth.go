package shrike

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/veldtlabs/shrike/sasl"
)

// authPreference orders mechanisms from most to least preferred.
// CRAM-MD5 first: it is the only one that keeps the password off the
// wire on plaintext connections.
var authPreference = []string{"cram-md5", "plain", "login"}

// Login authenticates with the server, trying the mutually supported
// SASL mechanisms in preference order. A mechanism rejected by the
// server (bad credentials included) does not stop the attempt: the
// next mechanism is tried, and only when all are exhausted is the last
// rejection returned, as an *AuthError.
func (c *Client) Login(username, password string) (*Response, error) {
	return c.LoginWith(&ClientAuth{Username: username, Password: password})
}

// LoginWith is Login with explicit credentials and an optional
// restriction on the mechanisms to try.
func (c *Client) LoginWith(auth *ClientAuth) (*Response, error) {
	if err := c.ehloOrHeloIfNeeded(); err != nil {
		return nil, err
	}

	if !c.SupportsExtension(ExtAuth) {
		if c.IsConnected() && !c.IsTLS() {
			// Many servers hide AUTH until the session is encrypted.
			return nil, fmt.Errorf("%w; the server may require STARTTLS first", ErrAuthNotSupported)
		}
		return nil, ErrAuthNotSupported
	}

	mechanisms := c.usableMechanisms(auth.Mechanisms)
	if len(mechanisms) == 0 {
		return nil, fmt.Errorf("%w: no mutually supported mechanism (server offers: %s)",
			ErrAuthNotSupported, strings.Join(c.AuthMechanisms(), ", "))
	}

	var lastErr error
	for _, name := range mechanisms {
		resp, err := c.authenticate(newMechanism(name, auth.Username, auth.Password))
		if err == nil {
			c.logf("authenticated", "mechanism", name)
			return resp, nil
		}

		var authErr *AuthError
		if !errors.As(err, &authErr) {
			// Transport or protocol failure: retrying another
			// mechanism on a broken session is pointless.
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// usableMechanisms intersects the client preference order with the
// server's advertised mechanisms, optionally restricted to an explicit
// allow list.
func (c *Client) usableMechanisms(allowed []string) []string {
	serverMechs := c.AuthMechanisms()

	var out []string
	for _, name := range authPreference {
		if !slices.Contains(serverMechs, name) {
			continue
		}
		if len(allowed) > 0 && !slices.Contains(allowed, name) {
			continue
		}
		out = append(out, name)
	}
	return out
}

// newMechanism instantiates a mechanism by its advertised name.
func newMechanism(name, username, password string) sasl.Mechanism {
	switch name {
	case "cram-md5":
		return sasl.NewCramMD5(username, password)
	case "plain":
		return sasl.NewPlain(username, password)
	default:
		return sasl.NewLogin(username, password)
	}
}

// authenticate drives one complete AUTH exchange for a mechanism. The
// whole exchange runs under the I/O lock so no other command can slip
// between a challenge and its response.
func (c *Client) authenticate(mech sasl.Mechanism) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	initial, err := mech.Start()
	if err != nil {
		return nil, err
	}

	args := []string{"AUTH", strings.ToUpper(mech.Name())}
	if initial != "" {
		args = append(args, initial)
	}

	resp, err := c.cmdLocked(args...)
	if err != nil {
		return nil, err
	}

	for resp.Code == CodeAuthContinue {
		answer, err := mech.Next(resp.Message)
		if err != nil {
			// Abort the exchange per RFC 4954 before giving up.
			_, _ = c.cmdLocked("*")
			return nil, err
		}
		resp, err = c.cmdLocked(answer)
		if err != nil {
			return nil, err
		}
	}

	switch resp.Code {
	case CodeAuthSuccess:
		c.authenticated = true
		return resp, nil
	case CodeBadSequence:
		// 503 here means "already authenticated"; the session is in
		// the state the caller wanted.
		return resp, nil
	}
	return resp, &AuthError{ResponseError{Code: resp.Code, Message: resp.Message}}
}
