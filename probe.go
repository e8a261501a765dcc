package shrike

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/veldtlabs/shrike/utils"
)

// Capabilities summarizes what a server offers, as learned from its
// greeting and EHLO reply.
type Capabilities struct {
	// Greeting is the 220 banner text.
	Greeting string

	// ServerIP is the address the session actually reached, useful
	// when the host resolved to multiple records.
	ServerIP net.IP

	// ESMTP reports whether the server accepted EHLO.
	ESMTP bool

	// Extensions maps lower-cased extension keywords to their
	// parameter text.
	Extensions map[string]string

	// Auth lists the advertised SASL mechanisms, lower-cased.
	Auth []string

	// TLS reports whether the session probed was encrypted.
	TLS bool

	// TLSVersion and TLSCipher describe the negotiated TLS session,
	// empty on plaintext probes.
	TLSVersion string
	TLSCipher  string

	// MaxSize is the advertised SIZE limit in bytes, 0 if none.
	MaxSize int64

	// STARTTLS reports whether the server offers the upgrade.
	STARTTLS bool

	Pipelining   bool
	EightBitMIME bool
	SMTPUTF8     bool
	DSN          bool
}

// Capabilities reports the connected server's capabilities. The
// client must have completed EHLO (any command does this implicitly;
// so does Hello).
func (c *Client) Capabilities() *Capabilities {
	caps := &Capabilities{
		Greeting:   c.Greeting(),
		ESMTP:      c.IsESMTP(),
		Extensions: c.Extensions(),
		Auth:       c.AuthMechanisms(),
		TLS:        c.IsTLS(),
		MaxSize:    c.MaxSize(),
	}

	if addr, err := c.RemoteAddr(); err == nil {
		if ip, err := utils.GetIPFromAddr(addr); err == nil {
			caps.ServerIP = ip
		}
	}

	caps.STARTTLS = c.SupportsExtension(ExtSTARTTLS)
	caps.Pipelining = c.SupportsExtension(ExtPipelining)
	caps.EightBitMIME = c.SupportsExtension(Ext8BitMIME)
	caps.SMTPUTF8 = c.SupportsExtension(ExtSMTPUTF8)
	caps.DSN = c.SupportsExtension(ExtDSN)

	if state, ok := c.TLSConnectionState(); ok {
		caps.TLSVersion = tls.VersionName(state.Version)
		caps.TLSCipher = tls.CipherSuiteName(state.CipherSuite)
	}

	return caps
}

// Probe connects to a server, collects its capabilities, and
// disconnects. The session follows the dialer's TLS settings, so a
// default Dialer probes the post-STARTTLS capability set when the
// server offers the upgrade.
func (d *Dialer) Probe(ctx context.Context) (*Capabilities, error) {
	client, err := d.Dial(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	caps := client.Capabilities()
	_, _ = client.Quit()
	return caps, nil
}

// ProbePlaintext collects the capability set a server shows before
// any STARTTLS upgrade, which is where AUTH mechanisms are commonly
// hidden.
func (d *Dialer) ProbePlaintext(ctx context.Context) (*Capabilities, error) {
	plain := *d
	plain.UseTLS = false
	plain.StartTLS = StartTLSNever
	plain.Auth = nil
	return plain.Probe(ctx)
}
