package shrike

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	shrikeio "github.com/veldtlabs/shrike/io"
)

// maxLineLength is the longest reply line we accept, per RFC 5321's
// guidance plus generous headroom for oversized EHLO/VRFY replies.
const maxLineLength = 8192

// readResponse reads one complete (possibly multi-line) server reply.
// The caller must hold c.mu. Read failures mark the connection closed:
// a timed-out or reset session is not reusable.
func (c *Client) readResponse() (*Response, error) {
	if c.conn == nil {
		return nil, ErrServerDisconnected
	}

	if t := c.config.ReadTimeout; t > 0 {
		c.conn.SetReadDeadline(time.Now().Add(t))
	}
	return c.readReply()
}

// readReply reads a reply without touching the read deadline; the
// caller has already set one. The caller must hold c.mu.
func (c *Client) readReply() (*Response, error) {
	var lines []string
	code := CodeInvalid

	for {
		line, err := shrikeio.ReadLine(c.reader, maxLineLength)
		if err != nil {
			if errors.Is(err, shrikeio.ErrLineTooLong) {
				return nil, ErrResponseTooLong
			}
			c.closeLocked()
			return nil, c.classifyNetError(err)
		}

		c.trace("S: %s", line)

		if len(line) < 3 {
			c.closeLocked()
			return nil, fmt.Errorf("%w: %q", ErrMalformedResponse, line)
		}

		n, err := strconv.Atoi(line[:3])
		if err != nil {
			c.closeLocked()
			return nil, fmt.Errorf("%w: %q", ErrMalformedResponse, line)
		}
		code = SMTPCode(n)

		var message string
		if len(line) > 4 {
			message = strings.Trim(line[4:], " \t\r\n")
		}
		lines = append(lines, message)

		// A hyphen after the code marks a continuation line.
		if len(line) < 4 || line[3] != '-' {
			break
		}
	}

	resp := newResponse(code, lines)
	c.lastResponse = resp
	return resp, nil
}

// writeLine writes a single command line followed by CRLF and flushes.
// The caller must hold c.mu.
func (c *Client) writeLine(line string) error {
	if c.conn == nil {
		return ErrServerDisconnected
	}

	c.trace("C: %s", line)

	if t := c.config.WriteTimeout; t > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(t))
	}

	if _, err := c.writer.WriteString(line + "\r\n"); err != nil {
		c.closeLocked()
		return c.classifyNetError(err)
	}
	if err := c.writer.Flush(); err != nil {
		c.closeLocked()
		return c.classifyNetError(err)
	}
	return nil
}

// writePayload writes raw bytes (already transport-encoded) and
// flushes. The caller must hold c.mu.
func (c *Client) writePayload(data []byte) error {
	if c.conn == nil {
		return ErrServerDisconnected
	}

	if t := c.config.WriteTimeout; t > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(t))
	}

	if _, err := c.writer.Write(data); err != nil {
		c.closeLocked()
		return c.classifyNetError(err)
	}
	if err := c.writer.Flush(); err != nil {
		c.closeLocked()
		return c.classifyNetError(err)
	}
	return nil
}

// cmd executes one command/response exchange under the I/O lock.
func (c *Client) cmd(args ...string) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cmdLocked(args...)
}

// cmdLocked is cmd for callers already holding c.mu.
func (c *Client) cmdLocked(args ...string) (*Response, error) {
	if err := c.writeLine(strings.Join(args, " ")); err != nil {
		return nil, err
	}

	resp, err := c.readResponse()
	if err != nil {
		return nil, err
	}

	// 421 means the server is shutting us out; be nice and hang up.
	if resp.Code == CodeServiceUnavailable {
		c.closeLocked()
	}

	return resp, nil
}

// classifyNetError maps a transport error to the timeout/disconnect
// taxonomy. Both are connection-compromising; callers should reconnect.
func (c *Client) classifyNetError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrServerDisconnected, err)
}

// formatDataMessage applies RFC 5321 transport encoding to a message
// body: every line ending (bare CR, bare LF, or CRLF) becomes CRLF,
// every line starting with a period gets an extra period prepended,
// and the payload is closed with exactly one CRLF followed by the
// terminating ".\r\n" sequence.
func formatDataMessage(message []byte) []byte {
	out := make([]byte, 0, len(message)+len(message)/64+8)
	atLineStart := true

	for i := 0; i < len(message); i++ {
		switch b := message[i]; b {
		case '\r':
			if i+1 < len(message) && message[i+1] == '\n' {
				i++
			}
			out = append(out, '\r', '\n')
			atLineStart = true
		case '\n':
			out = append(out, '\r', '\n')
			atLineStart = true
		default:
			if atLineStart && b == '.' {
				out = append(out, '.')
			}
			out = append(out, b)
			atLineStart = false
		}
	}

	if !bytes.HasSuffix(out, []byte("\r\n")) {
		out = append(out, '\r', '\n')
	}
	return append(out, '.', '\r', '\n')
}

// Data sends the SMTP DATA command followed by the transport-encoded
// message content. The two-phase exchange (354 go-ahead, then the
// terminal 250) runs as one critical section under the I/O lock.
func (c *Client) Data(message []byte) (*Response, error) {
	if err := c.ehloOrHeloIfNeeded(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.cmdLocked("DATA")
	if err != nil {
		return nil, err
	}
	if resp.Code != CodeStartMailInput {
		return resp, &DataError{ResponseError{Code: resp.Code, Message: resp.Message}}
	}

	if err := c.writePayload(formatDataMessage(message)); err != nil {
		return nil, err
	}

	resp, err = c.readResponse()
	if err != nil {
		return nil, err
	}
	if resp.Code != CodeOK {
		return resp, &DataError{ResponseError{Code: resp.Code, Message: resp.Message}}
	}

	return resp, nil
}

// StartTLS upgrades the connection to TLS in place (RFC 3207). The
// *Client handle stays valid across the upgrade; only the underlying
// transport is swapped. The handshake runs under the I/O lock so no
// other read or write can interleave with it. STARTTLS is one-way:
// upgrading an already-TLS session fails with ErrTLSAlreadyActive.
func (c *Client) StartTLS() (*Response, error) {
	if err := c.ehloOrHeloIfNeeded(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrServerDisconnected
	}
	if c.isTLS {
		return nil, ErrTLSAlreadyActive
	}
	if _, ok := c.extensions["starttls"]; !ok {
		return nil, ErrTLSNotSupported
	}

	tlsConfig, err := c.tlsClientConfig(c.serverName)
	if err != nil {
		return nil, err
	}

	resp, err := c.cmdLocked("STARTTLS")
	if err != nil {
		return nil, err
	}
	if resp.Code != CodeServiceReady {
		return resp, &ResponseError{Code: resp.Code, Message: resp.Message}
	}

	tlsConn := tls.Client(c.conn, tlsConfig)
	if t := c.config.ConnectTimeout; t > 0 {
		tlsConn.SetDeadline(time.Now().Add(t))
	}
	if err := tlsConn.Handshake(); err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("TLS handshake failed: %w", c.classifyNetError(err))
	}
	tlsConn.SetDeadline(time.Time{})

	c.conn = tlsConn
	c.reader = bufio.NewReader(tlsConn)
	c.writer = bufio.NewWriter(tlsConn)
	c.isTLS = true

	// RFC 3207 section 4.2: discard everything learned about the
	// server before the upgrade, extensions included.
	c.resetServerStateLocked()

	c.logf("connection upgraded to TLS", "server", c.serverName)

	return resp, nil
}
