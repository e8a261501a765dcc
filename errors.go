package shrike

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrServerDisconnected = errors.New("smtp: server disconnected")
	ErrTimeout            = errors.New("smtp: timeout")
	ErrConnectFailed      = errors.New("smtp: connect failed")
	ErrConnectTimeout     = errors.New("smtp: timed out connecting")
	ErrMalformedResponse  = errors.New("smtp: malformed server response")
	ErrResponseTooLong    = errors.New("smtp: response line too long")
	ErrTLSAlreadyActive   = errors.New("smtp: connection already using TLS")
	ErrTLSNotSupported    = errors.New("smtp: STARTTLS not supported by server")
	ErrAuthNotSupported   = errors.New("smtp: AUTH extension not supported by server")
	ErrNotSupported       = errors.New("smtp: extension not supported by server")
	ErrNoRecipients       = errors.New("smtp: no recipients specified")
)

// ResponseError is the base error for server replies with failure
// status codes. It carries the original code and message verbatim so
// callers can route on the 4xx/5xx distinction.
type ResponseError struct {
	Code    SMTPCode
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("SMTP %d: %s", e.Code, e.Message)
}

// IsPermanent returns true if this is a permanent failure (5xx).
func (e *ResponseError) IsPermanent() bool {
	return e.Code >= 500 && e.Code < 600
}

// IsTransient returns true if this is a transient failure (4xx).
func (e *ResponseError) IsTransient() bool {
	return e.Code >= 400 && e.Code < 500
}

// HeloError reports a server that refused HELO or EHLO.
type HeloError struct {
	ResponseError
}

// DataError reports a server that refused DATA or the message content.
type DataError struct {
	ResponseError
}

// AuthError reports a refused AUTH exchange; usually bad credentials.
type AuthError struct {
	ResponseError
}

// ConnectResponseError reports an invalid greeting after connecting.
type ConnectResponseError struct {
	ResponseError
}

// SenderRefused reports a rejected MAIL FROM address.
type SenderRefused struct {
	ResponseError
	Sender string
}

func (e *SenderRefused) Error() string {
	return fmt.Sprintf("SMTP %d: sender %s refused: %s", e.Code, e.Sender, e.Message)
}

// RecipientRefused reports a single rejected RCPT TO address.
type RecipientRefused struct {
	ResponseError
	Recipient string
}

func (e *RecipientRefused) Error() string {
	return fmt.Sprintf("SMTP %d: recipient %s refused: %s", e.Code, e.Recipient, e.Message)
}

// RecipientsRefused aggregates per-recipient rejections when every
// recipient of a transaction was refused.
type RecipientsRefused struct {
	Recipients []*RecipientRefused
}

func (e *RecipientsRefused) Error() string {
	addrs := make([]string, len(e.Recipients))
	for i, r := range e.Recipients {
		addrs[i] = r.Recipient
	}
	return fmt.Sprintf("smtp: all recipients refused: %s", strings.Join(addrs, ", "))
}

// needsReset reports whether err is a server-side rejection that
// leaves the envelope dirty, as opposed to a dead connection. After
// such an error the transaction layer issues a best-effort RSET.
func needsReset(err error) bool {
	switch err.(type) {
	case *ResponseError, *HeloError, *DataError, *AuthError,
		*SenderRefused, *RecipientRefused, *RecipientsRefused:
		return true
	}
	return false
}
