// Package mail provides a minimal RFC 5322 message model for SMTP
// submission: ordered headers, an opaque body, envelope extraction and
// a fluent builder. It is deliberately flat; MIME multipart assembly
// is out of scope.
package mail

import (
	"bytes"
	"strings"
)

// Header is a single RFC 5322 header field.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers is an ordered collection of header fields. Order is
// preserved because RFC 5322 makes it meaningful for trace fields.
type Headers []Header

// Get returns the first header value with the given name
// (case-insensitive), or "" when absent.
func (h Headers) Get(name string) string {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value
		}
	}
	return ""
}

// GetAll returns all header values with the given name
// (case-insensitive).
func (h Headers) GetAll(name string) []string {
	var values []string
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			values = append(values, hdr.Value)
		}
	}
	return values
}

// Has reports whether a header with the given name is present.
func (h Headers) Has(name string) bool {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return true
		}
	}
	return false
}

// Del returns the headers with every field of the given name removed.
func (h Headers) Del(name string) Headers {
	out := make(Headers, 0, len(h))
	for _, hdr := range h {
		if !strings.EqualFold(hdr.Name, name) {
			out = append(out, hdr)
		}
	}
	return out
}

// Message is a complete mail message: the RFC 5322 header section plus
// an opaque body. The body is carried verbatim; line-ending and
// dot-stuffing concerns belong to the SMTP transport layer.
type Message struct {
	Headers Headers `json:"headers"`
	Body    []byte  `json:"body,omitempty"`
}

// AddHeader appends a header field.
func (m *Message) AddHeader(name, value string) {
	m.Headers = append(m.Headers, Header{Name: name, Value: value})
}

// SetHeader replaces every field of the given name with a single one.
func (m *Message) SetHeader(name, value string) {
	m.Headers = m.Headers.Del(name)
	m.AddHeader(name, value)
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	out := &Message{
		Headers: append(Headers(nil), m.Headers...),
		Body:    append([]byte(nil), m.Body...),
	}
	return out
}

// Bytes renders the message in wire form: header section, empty line,
// body, with CRLF line endings in the header section.
func (m *Message) Bytes() []byte {
	var buf bytes.Buffer
	for _, h := range m.Headers {
		buf.WriteString(h.Name)
		buf.WriteString(": ")
		buf.WriteString(h.Value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(m.Body)
	return buf.Bytes()
}

// Parse parses raw message data into headers and body per RFC 5322.
// The header section ends at the first empty line; folded (multi-line)
// header values are unfolded. Both CRLF and bare LF line endings are
// accepted. Data with no header/body separator is treated as all body.
func Parse(data []byte) *Message {
	headerEnd, bodyStart := findHeaderEnd(data)
	if headerEnd == 0 {
		return &Message{Body: data}
	}

	headers := make(Headers, 0, 8)
	var currentName, currentValue string

	for _, raw := range bytes.Split(data[:headerEnd], []byte("\n")) {
		line := strings.TrimRight(string(raw), "\r")
		if line == "" {
			continue
		}

		// Folded continuation line.
		if line[0] == ' ' || line[0] == '\t' {
			if currentName != "" {
				currentValue += " " + strings.TrimSpace(line)
			}
			continue
		}

		if currentName != "" {
			headers = append(headers, Header{Name: currentName, Value: currentValue})
		}

		if name, value, found := strings.Cut(line, ":"); found {
			currentName = strings.TrimSpace(name)
			currentValue = strings.TrimSpace(value)
		} else {
			currentName, currentValue = "", ""
		}
	}
	if currentName != "" {
		headers = append(headers, Header{Name: currentName, Value: currentValue})
	}

	var body []byte
	if bodyStart < len(data) {
		body = data[bodyStart:]
	}
	return &Message{Headers: headers, Body: body}
}

// findHeaderEnd locates the blank line separating headers from body.
// Returns the end offset of the header section and the start of the
// body, or (0, 0) when no separator exists.
func findHeaderEnd(data []byte) (headerEnd, bodyStart int) {
	crlf := bytes.Index(data, []byte("\r\n\r\n"))
	lf := bytes.Index(data, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf, crlf + 4
	case lf >= 0:
		return lf, lf + 2
	}
	return 0, 0
}
