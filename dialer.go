package shrike

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/net/idna"

	"github.com/veldtlabs/shrike/dns"
	"github.com/veldtlabs/shrike/mail"
)

// StartTLSPolicy controls how a Dialer handles opportunistic TLS on
// plaintext connections.
type StartTLSPolicy int

const (
	// StartTLSWhenAvailable upgrades to TLS when the server advertises
	// STARTTLS and proceeds in plaintext otherwise. The default.
	StartTLSWhenAvailable StartTLSPolicy = iota

	// StartTLSAlways requires the upgrade; connecting to a server
	// without STARTTLS fails.
	StartTLSAlways

	// StartTLSNever stays in plaintext even when STARTTLS is offered.
	StartTLSNever
)

// Dialer produces connected, negotiated clients: greeting read, EHLO
// done, TLS upgraded per policy, and credentials presented. It holds
// no connection state itself and is safe to reuse and share.
type Dialer struct {
	// Host and Port address the server. Port 0 selects the default
	// for the transport mode.
	Host string
	Port int

	// LocalName is the client hostname for EHLO/HELO.
	LocalName string

	// UseTLS selects implicit TLS (the port 465 model). StartTLS
	// controls opportunistic upgrades on plaintext connections and is
	// ignored when UseTLS is set.
	UseTLS   bool
	StartTLS StartTLSPolicy

	// TLSConfig optionally overrides TLS settings for both implicit
	// TLS and STARTTLS.
	TLSConfig *tls.Config

	// Auth, when set, authenticates every dialed connection.
	Auth *ClientAuth

	// Resolver is used by DialMX. Nil selects a miekg/dns resolver
	// with system nameservers.
	Resolver dns.Resolver

	// Timeouts for the underlying clients; zero values fall back to
	// the client defaults.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	Logger      *slog.Logger
	Debug       bool
	DebugWriter io.Writer
}

// NewDialer returns a Dialer for the given server with default
// negotiation policy.
func NewDialer(host string, port int) *Dialer {
	return &Dialer{Host: host, Port: port}
}

// Dial connects to the configured server and negotiates the session.
// The caller owns the returned client and should Quit or Close it.
func (d *Dialer) Dial(ctx context.Context) (*Client, error) {
	return d.dialHost(ctx, d.Host, d.Port)
}

// DialMX connects to the mail exchanger of an address domain: MX
// hosts are resolved (honoring the RFC 5321 implicit MX rule) and
// tried in preference order until one session negotiates fully.
func (d *Dialer) DialMX(ctx context.Context, domain string) (*Client, error) {
	asciiDomain, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		asciiDomain = domain
	}

	resolver := d.Resolver
	if resolver == nil {
		resolver = dns.NewResolver(dns.ResolverConfig{Timeout: d.ConnectTimeout})
	}

	hosts, err := dns.MailHosts(ctx, resolver, asciiDomain)
	if err != nil {
		return nil, fmt.Errorf("smtp: resolving MX for %s: %w", domain, err)
	}

	var lastErr error
	for _, host := range hosts {
		client, err := d.dialHost(ctx, host, d.Port)
		if err == nil {
			return client, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// DialAndSend dials, submits one message, and closes the session.
func (d *Dialer) DialAndSend(ctx context.Context, msg *mail.Message) (map[string]*Response, string, error) {
	client, err := d.Dial(ctx)
	if err != nil {
		return nil, "", err
	}
	defer client.Close()

	failed, reply, err := client.SendMessage(msg, nil)
	if err != nil {
		return failed, reply, err
	}

	_, _ = client.Quit()
	return failed, reply, nil
}

// dialHost builds a client for one target host and negotiates it.
func (d *Dialer) dialHost(ctx context.Context, host string, port int) (*Client, error) {
	config := DefaultClientConfig()
	config.Hostname = host
	config.Port = port
	config.UseTLS = d.UseTLS
	config.TLSConfig = d.TLSConfig
	if d.LocalName != "" {
		config.LocalName = d.LocalName
	}
	if d.ConnectTimeout > 0 {
		config.ConnectTimeout = d.ConnectTimeout
	}
	if d.ReadTimeout > 0 {
		config.ReadTimeout = d.ReadTimeout
	}
	if d.WriteTimeout > 0 {
		config.WriteTimeout = d.WriteTimeout
	}
	if d.Logger != nil {
		config.Logger = d.Logger
	}
	config.Debug = d.Debug
	config.DebugWriter = d.DebugWriter

	client, err := NewClient(config)
	if err != nil {
		return nil, err
	}

	if _, err := client.Connect(ctx); err != nil {
		return nil, err
	}
	if err := d.negotiate(client); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// negotiate brings a freshly connected client to a ready session:
// EHLO/HELO, the STARTTLS policy, then authentication.
func (d *Dialer) negotiate(client *Client) error {
	if err := client.Hello(); err != nil {
		return err
	}

	if !client.IsTLS() && d.StartTLS != StartTLSNever {
		switch {
		case client.SupportsExtension(ExtSTARTTLS):
			if _, err := client.StartTLS(); err != nil {
				return err
			}
			// Extensions reset across the upgrade; renegotiate them.
			if err := client.Hello(); err != nil {
				return err
			}
		case d.StartTLS == StartTLSAlways:
			return ErrTLSNotSupported
		}
	}

	if d.Auth != nil {
		if _, err := client.LoginWith(d.Auth); err != nil {
			return err
		}
	}
	return nil
}
