package shrike

import (
	"fmt"
	"strings"
)

// SMTPCode represents SMTP reply codes (RFC 5321).
// 2yz: Success, 3yz: Continue, 4yz: Transient failure, 5yz: Permanent failure.
type SMTPCode int

const (
	// 2xx - Success
	CodeSystemStatus            SMTPCode = 211
	CodeHelpMessage             SMTPCode = 214
	CodeServiceReady            SMTPCode = 220
	CodeServiceClosing          SMTPCode = 221
	CodeAuthSuccess             SMTPCode = 235
	CodeOK                      SMTPCode = 250
	CodeUserNotLocalWillForward SMTPCode = 251
	CodeCannotVRFY              SMTPCode = 252

	// 3xx - Intermediate
	CodeAuthContinue   SMTPCode = 334
	CodeStartMailInput SMTPCode = 354

	// 4xx - Transient Failure
	CodeServiceUnavailable  SMTPCode = 421
	CodeMailboxUnavailable  SMTPCode = 450
	CodeLocalError          SMTPCode = 451
	CodeInsufficientStorage SMTPCode = 452

	// 5xx - Permanent Failure
	CodeCommandUnrecognized    SMTPCode = 500
	CodeSyntaxError            SMTPCode = 501
	CodeCommandNotImplemented  SMTPCode = 502
	CodeBadSequence            SMTPCode = 503
	CodeAuthRequired           SMTPCode = 530
	CodeAuthCredentialsInvalid SMTPCode = 535
	CodeMailboxNotFound        SMTPCode = 550
	CodeExceededStorage        SMTPCode = 552
	CodeTransactionFailed      SMTPCode = 554

	// CodeInvalid is the sentinel for a reply whose status code could
	// not be parsed. A Response carrying it never escapes the parsing
	// layer without an accompanying error.
	CodeInvalid SMTPCode = -1
)

// Response represents a parsed SMTP server reply. Multi-line replies
// are collapsed into a single Response: Message holds the
// newline-joined text of every line and Code the final line's status
// code. Immutable once constructed.
type Response struct {
	Code    SMTPCode
	Message string
	Lines   []string
}

// String returns the response in "code message" form.
func (r *Response) String() string {
	return fmt.Sprintf("%d %s", r.Code, r.Message)
}

// IsSuccess returns true if the response indicates success (2xx).
func (r *Response) IsSuccess() bool {
	return r.Code >= 200 && r.Code < 300
}

// IsIntermediate returns true if the response is intermediate (3xx).
func (r *Response) IsIntermediate() bool {
	return r.Code >= 300 && r.Code < 400
}

// IsTransientError returns true if the response indicates a transient error (4xx).
func (r *Response) IsTransientError() bool {
	return r.Code >= 400 && r.Code < 500
}

// IsPermanentError returns true if the response indicates a permanent error (5xx).
func (r *Response) IsPermanentError() bool {
	return r.Code >= 500 && r.Code < 600
}

// newResponse builds a Response from accumulated reply lines.
func newResponse(code SMTPCode, lines []string) *Response {
	return &Response{
		Code:    code,
		Message: strings.Join(lines, "\n"),
		Lines:   lines,
	}
}
