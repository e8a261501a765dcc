// Package sasl implements the client side of the SASL mechanisms used
// for SMTP authentication (RFC 4954): PLAIN, LOGIN and CRAM-MD5.
//
// A Mechanism is a small state machine driven by the AUTH command
// layer: Start produces the optional initial response sent on the AUTH
// line, and Next answers each 334 server challenge. All responses and
// challenges cross this interface base64-encoded, as they appear on
// the wire.
package sasl

import "errors"

var (
	// ErrUnexpectedChallenge is returned when the server issues a
	// challenge the mechanism has no answer for.
	ErrUnexpectedChallenge = errors.New("sasl: unexpected server challenge")
)

// Mechanism is a client-side SASL authentication mechanism.
type Mechanism interface {
	// Name returns the mechanism name as advertised in EHLO AUTH
	// parameters, lower-cased (e.g. "cram-md5").
	Name() string

	// Start returns the initial response to send with the AUTH
	// command, base64-encoded, or "" when the mechanism waits for a
	// server challenge first.
	Start() (string, error)

	// Next answers a 334 server challenge. challenge is the base64
	// text from the reply; the returned response is base64-encoded.
	Next(challenge string) (string, error)
}
