package mail

import (
	"bytes"
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

// Messages serialize to MessagePack for queueing and archival. The
// encoding is a two-entry map: "headers" as an array of [name, value]
// pairs (preserving order, unlike a map) and "body" as raw bytes.

// EncodeMsg implements msgp.Encodable.
func (m *Message) EncodeMsg(w *msgp.Writer) error {
	if err := w.WriteMapHeader(2); err != nil {
		return err
	}

	if err := w.WriteString("headers"); err != nil {
		return err
	}
	if err := w.WriteArrayHeader(uint32(len(m.Headers))); err != nil {
		return err
	}
	for _, h := range m.Headers {
		if err := w.WriteArrayHeader(2); err != nil {
			return err
		}
		if err := w.WriteString(h.Name); err != nil {
			return err
		}
		if err := w.WriteString(h.Value); err != nil {
			return err
		}
	}

	if err := w.WriteString("body"); err != nil {
		return err
	}
	return w.WriteBytes(m.Body)
}

// DecodeMsg implements msgp.Decodable.
func (m *Message) DecodeMsg(r *msgp.Reader) error {
	size, err := r.ReadMapHeader()
	if err != nil {
		return err
	}

	for i := uint32(0); i < size; i++ {
		key, err := r.ReadString()
		if err != nil {
			return err
		}

		switch key {
		case "headers":
			count, err := r.ReadArrayHeader()
			if err != nil {
				return err
			}
			headers := make(Headers, 0, count)
			for j := uint32(0); j < count; j++ {
				pair, err := r.ReadArrayHeader()
				if err != nil {
					return err
				}
				if pair != 2 {
					return fmt.Errorf("mail: header entry has %d elements, want 2", pair)
				}
				name, err := r.ReadString()
				if err != nil {
					return err
				}
				value, err := r.ReadString()
				if err != nil {
					return err
				}
				headers = append(headers, Header{Name: name, Value: value})
			}
			m.Headers = headers

		case "body":
			body, err := r.ReadBytes(nil)
			if err != nil {
				return err
			}
			m.Body = body

		default:
			if err := r.Skip(); err != nil {
				return err
			}
		}
	}
	return nil
}

// ToMessagePack serializes the message to MessagePack bytes.
func (m *Message) ToMessagePack() ([]byte, error) {
	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := m.EncodeMsg(w); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FromMessagePack deserializes a message from MessagePack bytes.
func FromMessagePack(data []byte) (*Message, error) {
	var m Message
	if err := m.DecodeMsg(msgp.NewReader(bytes.NewReader(data))); err != nil {
		return nil, err
	}
	return &m, nil
}
