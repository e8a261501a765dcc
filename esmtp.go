package shrike

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// Extension names as they appear in lower-cased capability keys.
const (
	ExtSTARTTLS   = "starttls"
	ExtAuth       = "auth"
	ExtSize       = "size"
	Ext8BitMIME   = "8bitmime"
	ExtSMTPUTF8   = "smtputf8"
	ExtPipelining = "pipelining"
	ExtDSN        = "dsn"
	ExtEnhanced   = "enhancedstatuscodes"
	ExtChunking   = "chunking"
	ExtHelp       = "help"
	ExtETRN       = "etrn"
	ExtExpn       = "expn"
	ExtBinaryMIME = "binarymime"
)

var (
	// extensionRegex matches an RFC 1869 ehlo-keyword and its
	// parameter text.
	extensionRegex = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9-]*)\s*(.*)$`)

	// oldAuthRegex matches the legacy "AUTH=MECH" advertisement some
	// servers still emit for ancient clients.
	oldAuthRegex = regexp.MustCompile(`^(?i)AUTH=(.*)$`)
)

// parseEsmtpExtensions parses a successful EHLO reply message into the
// capability map (lower-cased keyword to parameter text) and the list
// of advertised AUTH mechanisms. The first line of the reply is the
// server's identification, not a capability, and is skipped.
//
// AUTH appears in the wild in two forms with different token rules:
// the standard "AUTH PLAIN LOGIN" keyword line contributes every
// token, while the legacy "AUTH=PLAIN" form contributes only the first
// whitespace-delimited token of its value.
func parseEsmtpExtensions(message string) (map[string]string, []string) {
	extensions := map[string]string{}
	var authMechs []string

	lines := strings.Split(message, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}

	for _, line := range lines {
		if m := oldAuthRegex.FindStringSubmatch(line); m != nil {
			if fields := strings.Fields(m[1]); len(fields) > 0 {
				authMechs = append(authMechs, strings.ToLower(fields[0]))
			}
		}

		m := extensionRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		keyword := strings.ToLower(m[1])
		params := strings.TrimSpace(m[2])

		extensions[keyword] = params

		if keyword == ExtAuth {
			for _, mech := range strings.Fields(params) {
				authMechs = append(authMechs, strings.ToLower(mech))
			}
		}
	}

	return extensions, authMechs
}

// Ehlo sends the SMTP EHLO command and, on success, records the
// advertised extensions and AUTH mechanisms. hostname defaults to the
// configured LocalName.
func (c *Client) Ehlo(hostname string) (*Response, error) {
	if hostname == "" {
		hostname = c.localName()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.cmdLocked("EHLO", hostname)
	if err != nil {
		return nil, err
	}
	c.lastEhlo = resp

	if resp.Code != CodeOK {
		return resp, &HeloError{ResponseError{Code: resp.Code, Message: resp.Message}}
	}

	c.isESMTP = true
	c.extensions, c.authMechs = parseEsmtpExtensions(resp.Message)
	return resp, nil
}

// ehloOrHeloIfNeeded identifies the client if no EHLO or HELO has been
// sent on this connection yet. EHLO is preferred; a server that
// rejects it gets one HELO attempt, provided the rejection did not
// also drop the connection.
func (c *Client) ehloOrHeloIfNeeded() error {
	c.mu.Lock()
	needed := c.conn != nil && c.lastEhlo == nil && c.lastHelo == nil
	c.mu.Unlock()

	if !needed {
		return nil
	}

	_, err := c.Ehlo("")
	if err == nil {
		return nil
	}

	var heloErr *HeloError
	if errors.As(err, &heloErr) && c.IsConnected() {
		if _, err := c.Helo(""); err != nil {
			return err
		}
		return nil
	}
	return err
}

// SupportsExtension reports whether the server advertised the named
// extension in its EHLO reply. Names are matched case-insensitively.
func (c *Client) SupportsExtension(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.extensions[strings.ToLower(name)]
	return ok
}

// Extensions returns a copy of the capability map from the last
// successful EHLO: lower-cased keyword to parameter text.
func (c *Client) Extensions() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]string, len(c.extensions))
	for k, v := range c.extensions {
		out[k] = v
	}
	return out
}

// AuthMechanisms returns the AUTH mechanisms the server advertised.
func (c *Client) AuthMechanisms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.authMechs...)
}

// IsESMTP reports whether the server accepted EHLO on this connection.
func (c *Client) IsESMTP() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.isESMTP
}

// MaxSize returns the server's advertised SIZE limit in bytes, or 0
// when the server did not advertise one (or advertised no limit).
func (c *Client) MaxSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	params, ok := c.extensions[ExtSize]
	if !ok || params == "" {
		return 0
	}
	size, err := strconv.ParseInt(params, 10, 64)
	if err != nil {
		return 0
	}
	return size
}

// resetServerStateLocked forgets everything learned from the server on
// this connection. Called on disconnect and after a STARTTLS upgrade,
// when RFC 3207 requires renegotiating extensions from scratch. The
// caller must hold c.mu.
func (c *Client) resetServerStateLocked() {
	c.isESMTP = false
	c.extensions = map[string]string{}
	c.authMechs = nil
	c.lastEhlo = nil
	c.lastHelo = nil
}
