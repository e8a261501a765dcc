package shrike

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// ClientConfig holds SMTP client configuration. Use
// DefaultClientConfig() and override fields as needed.
type ClientConfig struct {
	// Hostname is the server to connect to.
	Hostname string

	// Port is the server port. Zero selects the conventional default:
	// 465 when UseTLS is set, 25 otherwise.
	Port int

	// LocalName is the client hostname sent with EHLO/HELO.
	LocalName string

	// LocalAddr optionally binds the outgoing connection to a local
	// address ("ip" or "ip:port").
	LocalAddr string

	// UseTLS enables implicit TLS: the TLS handshake happens
	// immediately on connect, before the greeting (the port 465
	// model). For opportunistic encryption on a plaintext port, leave
	// this off and call StartTLS after connecting.
	UseTLS bool

	// TLSConfig, when set, is used verbatim for TLS connections
	// (implicit TLS and STARTTLS). Mutually exclusive with
	// ClientCert/ClientKey/CertBundle.
	TLSConfig *tls.Config

	// ClientCert and ClientKey are PEM file paths for client
	// certificate authentication.
	ClientCert string
	ClientKey  string

	// CertBundle is a PEM file path of CA certificates to verify the
	// server against, replacing the system roots.
	CertBundle string

	// InsecureSkipVerify disables server certificate verification.
	InsecureSkipVerify bool

	// ConnectTimeout bounds connection establishment, including the
	// TLS handshake and the server greeting.
	ConnectTimeout time.Duration

	// ReadTimeout and WriteTimeout bound individual reply reads and
	// command writes. Zero disables the deadline.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Logger receives structured client events. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// Debug mirrors the raw protocol exchange ("C:" / "S:" lines) to
	// DebugWriter (default os.Stderr).
	Debug       bool
	DebugWriter io.Writer
}

// DefaultClientConfig returns a config with sensible defaults for
// submission to a local or nearby relay.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Hostname:       "localhost",
		LocalName:      "localhost",
		ConnectTimeout: 30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   60 * time.Second,
	}
}

// ClientAuth holds credentials for SMTP authentication. Mechanisms
// optionally restricts which SASL mechanisms may be tried; empty means
// all supported mechanisms in preference order.
type ClientAuth struct {
	Username   string
	Password   string
	Mechanisms []string
}

// Client is an ESMTP client. One Client manages one server connection
// at a time, but survives reconnects: after a timeout or disconnect,
// call Connect again on the same Client.
//
// Client is safe for concurrent use. Commands are serialized so that
// exactly one command/response exchange is in flight per connection,
// and Sendmail holds a transaction-wide lock so concurrent sends
// cannot interleave their envelopes.
type Client struct {
	config *ClientConfig

	connectMu sync.Mutex // serializes Connect attempts
	sendMu    sync.Mutex // serializes whole mail transactions
	mu        sync.Mutex // protocol I/O: one exchange in flight

	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	serverName    string // hostname used for this connection (TLS SNI)
	greeting      string
	isTLS         bool
	authenticated bool

	// Server knowledge learned from EHLO. Cleared on disconnect and
	// after a STARTTLS upgrade.
	isESMTP    bool
	extensions map[string]string
	authMechs  []string
	lastEhlo   *Response
	lastHelo   *Response

	lastResponse *Response
}

// NewClient creates a client from config. Pass nil for defaults.
// TLS parameters are validated eagerly so misconfiguration surfaces
// here rather than mid-handshake.
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if config.TLSConfig != nil &&
		(config.ClientCert != "" || config.ClientKey != "" || config.CertBundle != "") {
		return nil, fmt.Errorf("smtp: TLSConfig is mutually exclusive with ClientCert/ClientKey/CertBundle")
	}
	if (config.ClientCert == "") != (config.ClientKey == "") {
		return nil, fmt.Errorf("smtp: ClientCert and ClientKey must be set together")
	}

	return &Client{
		config:     config,
		extensions: map[string]string{},
	}, nil
}

// Helo sends the SMTP HELO command. hostname defaults to the
// configured LocalName. Most callers want Hello, which prefers EHLO.
func (c *Client) Helo(hostname string) (*Response, error) {
	if hostname == "" {
		hostname = c.localName()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.cmdLocked("HELO", hostname)
	if err != nil {
		return nil, err
	}
	c.lastHelo = resp

	if resp.Code != CodeOK {
		return resp, &HeloError{ResponseError{Code: resp.Code, Message: resp.Message}}
	}
	return resp, nil
}

// Hello identifies the client to the server if it has not already:
// EHLO first, falling back to HELO for pre-ESMTP servers. Command
// methods call this implicitly, so explicit use is only needed to
// inspect extensions before issuing commands.
func (c *Client) Hello() error {
	return c.ehloOrHeloIfNeeded()
}

// Help sends the SMTP HELP command and returns the server's help text.
func (c *Client) Help() (string, error) {
	if err := c.ehloOrHeloIfNeeded(); err != nil {
		return "", err
	}

	resp, err := c.cmd("HELP")
	if err != nil {
		return "", err
	}
	switch resp.Code {
	case CodeSystemStatus, CodeHelpMessage, CodeOK:
		return resp.Message, nil
	}
	return "", &ResponseError{Code: resp.Code, Message: resp.Message}
}

// Rset sends the SMTP RSET command, aborting any open transaction.
func (c *Client) Rset() (*Response, error) {
	if err := c.ehloOrHeloIfNeeded(); err != nil {
		return nil, err
	}
	return c.expect(CodeOK, "RSET")
}

// Noop sends the SMTP NOOP command.
func (c *Client) Noop() (*Response, error) {
	if err := c.ehloOrHeloIfNeeded(); err != nil {
		return nil, err
	}
	return c.expect(CodeOK, "NOOP")
}

// Vrfy asks the server to verify an address.
func (c *Client) Vrfy(address string) (*Response, error) {
	if err := c.ehloOrHeloIfNeeded(); err != nil {
		return nil, err
	}

	resp, err := c.cmd("VRFY", parseAddress(address))
	if err != nil {
		return nil, err
	}
	switch resp.Code {
	case CodeOK, CodeUserNotLocalWillForward, CodeCannotVRFY:
		return resp, nil
	}
	return resp, &ResponseError{Code: resp.Code, Message: resp.Message}
}

// Expn asks the server to expand a mailing list address.
func (c *Client) Expn(address string) (*Response, error) {
	if err := c.ehloOrHeloIfNeeded(); err != nil {
		return nil, err
	}

	return c.expect(CodeOK, "EXPN", parseAddress(address))
}

// Quit sends the SMTP QUIT command and closes the connection. The
// connection is torn down even if the server replies badly.
func (c *Client) Quit() (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.cmdLocked("QUIT")
	c.closeLocked()
	if err != nil {
		return nil, err
	}
	if resp.Code != CodeServiceClosing {
		return resp, &ResponseError{Code: resp.Code, Message: resp.Message}
	}
	return resp, nil
}

// Mail sends the SMTP MAIL command, opening a transaction. options are
// appended verbatim to the MAIL FROM line (e.g. "SIZE=1024").
func (c *Client) Mail(sender string, options []string) (*Response, error) {
	if err := c.ehloOrHeloIfNeeded(); err != nil {
		return nil, err
	}

	args := append([]string{"MAIL", "FROM:" + quoteAddress(sender)}, options...)
	resp, err := c.cmd(args...)
	if err != nil {
		return nil, err
	}
	if resp.Code != CodeOK {
		return resp, &SenderRefused{
			ResponseError: ResponseError{Code: resp.Code, Message: resp.Message},
			Sender:        sender,
		}
	}
	return resp, nil
}

// Rcpt sends the SMTP RCPT command, adding a recipient to the open
// transaction.
func (c *Client) Rcpt(recipient string, options []string) (*Response, error) {
	if err := c.ehloOrHeloIfNeeded(); err != nil {
		return nil, err
	}

	args := append([]string{"RCPT", "TO:" + quoteAddress(recipient)}, options...)
	resp, err := c.cmd(args...)
	if err != nil {
		return nil, err
	}
	switch resp.Code {
	case CodeOK, CodeUserNotLocalWillForward:
		return resp, nil
	}
	return resp, &RecipientRefused{
		ResponseError: ResponseError{Code: resp.Code, Message: resp.Message},
		Recipient:     recipient,
	}
}

// expect runs a command and requires a specific reply code.
func (c *Client) expect(code SMTPCode, args ...string) (*Response, error) {
	resp, err := c.cmd(args...)
	if err != nil {
		return nil, err
	}
	if resp.Code != code {
		return resp, &ResponseError{Code: resp.Code, Message: resp.Message}
	}
	return resp, nil
}

func (c *Client) localName() string {
	if c.config.LocalName != "" {
		return c.config.LocalName
	}
	return "localhost"
}

// trace writes a raw protocol line to the debug writer.
func (c *Client) trace(format string, args ...any) {
	if !c.config.Debug {
		return
	}
	w := c.config.DebugWriter
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// logf emits a structured debug event.
func (c *Client) logf(msg string, attrs ...any) {
	c.config.Logger.Debug(msg, attrs...)
}
