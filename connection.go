package shrike

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/net/idna"

	"github.com/veldtlabs/shrike/utils"
)

// Connect establishes the connection and reads the server greeting.
// On success the greeting response is returned and the client is ready
// for commands. A Client whose connection died can Connect again.
func (c *Client) Connect(ctx context.Context) (*Response, error) {
	return c.ConnectWith(ctx, ConnectOverrides{})
}

// ConnectWith is Connect with per-call overrides for the target and
// timeout. Unset override fields fall back to the client config.
func (c *Client) ConnectWith(ctx context.Context, ov ConnectOverrides) (*Response, error) {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.closeLocked()
	}

	hostname := ov.Hostname.Or(c.config.Hostname)
	useTLS := ov.UseTLS.Or(c.config.UseTLS)
	port := ov.Port.Or(c.config.Port)
	if port == 0 {
		port = defaultPort(useTLS)
	}
	timeout := ov.Timeout.Or(c.config.ConnectTimeout)

	// Internationalized hostnames go on the wire as A-labels.
	asciiHost, err := idna.Lookup.ToASCII(hostname)
	if err != nil {
		asciiHost = hostname
	}
	address := net.JoinHostPort(asciiHost, strconv.Itoa(port))

	dialer := &net.Dialer{Timeout: timeout}
	if c.config.LocalAddr != "" {
		local, err := utils.ResolveLocalAddr(c.config.LocalAddr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
		}
		dialer.LocalAddr = local
	}

	var conn net.Conn
	if useTLS {
		tlsConfig, err := c.tlsClientConfig(asciiHost)
		if err != nil {
			return nil, err
		}
		td := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
		conn, err = td.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, connectError(err)
		}
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, connectError(err)
		}
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.writer = bufio.NewWriter(conn)
	c.serverName = asciiHost
	c.isTLS = useTLS

	// The greeting is bounded by the connect timeout, not the read
	// timeout: a server that accepts and stalls is a failed connect.
	if timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(timeout))
	}
	resp, err := c.readReply()
	if err != nil {
		c.closeLocked()
		return nil, connectError(err)
	}
	if resp.Code != CodeServiceReady {
		c.closeLocked()
		return resp, &ConnectResponseError{ResponseError{Code: resp.Code, Message: resp.Message}}
	}
	c.greeting = resp.Message

	c.logf("connected",
		"server", address,
		"tls", useTLS,
		"greeting", resp.Message)

	return resp, nil
}

// connectError folds dial and greeting failures into the connect error
// taxonomy.
func connectError(err error) error {
	if errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnectFailed, err)
}

// defaultPort returns the conventional port for the transport mode.
func defaultPort(useTLS bool) int {
	if useTLS {
		return 465
	}
	return 25
}

// Close tears down the connection. Safe to call at any time, in any
// state, repeatedly. The client can Connect again afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()
}

// closeLocked is Close for callers holding c.mu. Closing forgets all
// per-connection state, server knowledge included.
func (c *Client) closeLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
	c.writer = nil
	c.isTLS = false
	c.authenticated = false
	c.greeting = ""
	c.resetServerStateLocked()
}

// IsConnected reports whether the client currently holds a connection.
// This reflects local state only: a peer that silently vanished is
// discovered on the next command.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn != nil
}

// IsTLS reports whether the connection is encrypted, either from
// implicit TLS or a STARTTLS upgrade.
func (c *Client) IsTLS() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.isTLS
}

// IsAuthenticated reports whether an AUTH exchange succeeded on this
// connection.
func (c *Client) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.authenticated
}

// Greeting returns the server's connection greeting text.
func (c *Client) Greeting() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.greeting
}

// LastResponse returns the most recent reply received from the server,
// or nil before the first exchange.
func (c *Client) LastResponse() *Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastResponse
}

// LocalAddr returns the local endpoint of the connection.
func (c *Client) LocalAddr() (net.Addr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrServerDisconnected
	}
	return c.conn.LocalAddr(), nil
}

// RemoteAddr returns the remote endpoint of the connection.
func (c *Client) RemoteAddr() (net.Addr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrServerDisconnected
	}
	return c.conn.RemoteAddr(), nil
}

// TLSConnectionState returns the TLS state of the connection. ok is
// false when the connection is absent or not encrypted.
func (c *Client) TLSConnectionState() (state tls.ConnectionState, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tlsConn, ok := c.conn.(*tls.Conn)
	if !ok {
		return tls.ConnectionState{}, false
	}
	return tlsConn.ConnectionState(), true
}

// tlsClientConfig builds the TLS configuration for serverName from
// either the supplied TLSConfig or the certificate file parameters.
func (c *Client) tlsClientConfig(serverName string) (*tls.Config, error) {
	if c.config.TLSConfig != nil {
		cfg := c.config.TLSConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = serverName
		}
		return cfg, nil
	}

	cfg := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: c.config.InsecureSkipVerify,
	}

	if c.config.ClientCert != "" {
		cert, err := tls.LoadX509KeyPair(c.config.ClientCert, c.config.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("smtp: loading client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if c.config.CertBundle != "" {
		pem, err := os.ReadFile(c.config.CertBundle)
		if err != nil {
			return nil, fmt.Errorf("smtp: loading CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("smtp: no certificates found in CA bundle %s", c.config.CertBundle)
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}
