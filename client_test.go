package shrike

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Scripted server harness
// =============================================================================

// testServer runs a scripted SMTP server on a loopback port and
// records every command line the client sends.
type testServer struct {
	t        *testing.T
	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	commands []string
}

// serverConn is the server side of one accepted connection.
type serverConn struct {
	t      *testing.T
	srv    *testServer
	conn   net.Conn
	reader *bufio.Reader
}

// newTestServer starts a server that runs script once for each
// accepted connection, sequentially.
func newTestServer(t *testing.T, script func(s *serverConn)) *testServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	ts := &testServer{t: t, listener: listener}
	ts.wg.Add(1)
	go func() {
		defer ts.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.SetDeadline(time.Now().Add(10 * time.Second))
			script(&serverConn{
				t:      t,
				srv:    ts,
				conn:   conn,
				reader: bufio.NewReader(conn),
			})
			conn.Close()
		}
	}()

	t.Cleanup(func() {
		listener.Close()
		ts.wg.Wait()
	})
	return ts
}

func (ts *testServer) hostPort() (string, int) {
	addr := ts.listener.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

// sentCommands returns the command lines received so far.
func (ts *testServer) sentCommands() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	return append([]string(nil), ts.commands...)
}

// reply sends raw reply lines, CRLF-terminated.
func (s *serverConn) reply(lines ...string) {
	for _, line := range lines {
		if _, err := s.conn.Write([]byte(line + "\r\n")); err != nil {
			s.t.Errorf("server write failed: %v", err)
			return
		}
	}
}

// expect reads one command line, records it, and checks its prefix.
// Runs on the server goroutine, so failures are Errorf, not Fatalf.
func (s *serverConn) expect(prefix string) string {
	line, err := s.reader.ReadString('\n')
	if err != nil {
		s.t.Errorf("server read failed (expecting %q): %v", prefix, err)
		return ""
	}
	line = strings.TrimRight(line, "\r\n")

	s.srv.mu.Lock()
	s.srv.commands = append(s.srv.commands, line)
	s.srv.mu.Unlock()

	if !strings.HasPrefix(line, prefix) {
		s.t.Errorf("server got %q, expected prefix %q", line, prefix)
	}
	return line
}

// acceptEhlo consumes an EHLO command and advertises the given
// extension lines.
func (s *serverConn) acceptEhlo(extensions ...string) {
	s.expect("EHLO")
	lines := append([]string{"mail.test greets you"}, extensions...)
	for i, line := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		s.reply("250" + sep + line)
	}
}

// readData consumes a DATA payload up to the terminating dot line and
// returns the raw payload (dot line excluded, stuffing intact).
func (s *serverConn) readData() string {
	var b strings.Builder
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.t.Errorf("server read failed during DATA: %v", err)
			return b.String()
		}
		if line == ".\r\n" {
			return b.String()
		}
		b.WriteString(line)
	}
}

// newTestClient builds a client pointed at ts with short timeouts.
func newTestClient(t *testing.T, ts *testServer) *Client {
	t.Helper()

	host, port := ts.hostPort()
	config := DefaultClientConfig()
	config.Hostname = host
	config.Port = port
	config.LocalName = "client.test"
	config.ConnectTimeout = 5 * time.Second
	config.ReadTimeout = 5 * time.Second
	config.WriteTimeout = 5 * time.Second

	client, err := NewClient(config)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

// connectTestClient additionally performs Connect.
func connectTestClient(t *testing.T, ts *testServer) *Client {
	t.Helper()

	client := newTestClient(t, ts)
	if _, err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return client
}

// greet is the standard opening line for scripts.
func greet(s *serverConn) {
	s.reply("220 mail.test ESMTP ready")
}

// =============================================================================
// Connection lifecycle
// =============================================================================

func TestConnectReadsGreeting(t *testing.T) {
	ts := newTestServer(t, func(s *serverConn) {
		greet(s)
	})

	client := newTestClient(t, ts)
	resp, err := client.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if resp.Code != CodeServiceReady {
		t.Errorf("greeting code = %d, want 220", resp.Code)
	}
	if got := client.Greeting(); got != "mail.test ESMTP ready" {
		t.Errorf("Greeting() = %q", got)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after successful connect")
	}
}

func TestConnectRejectsBadGreeting(t *testing.T) {
	ts := newTestServer(t, func(s *serverConn) {
		s.reply("554 go away")
	})

	client := newTestClient(t, ts)
	_, err := client.Connect(context.Background())

	var connErr *ConnectResponseError
	if !errors.As(err, &connErr) {
		t.Fatalf("Connect error = %v, want *ConnectResponseError", err)
	}
	if connErr.Code != 554 {
		t.Errorf("greeting error code = %d, want 554", connErr.Code)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after rejected greeting")
	}
}

func TestConnectWithOverrides(t *testing.T) {
	ts := newTestServer(t, func(s *serverConn) {
		greet(s)
	})
	host, port := ts.hostPort()

	config := DefaultClientConfig()
	config.Hostname = "unreachable.invalid"
	config.Port = 9

	client, err := NewClient(config)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	_, err = client.ConnectWith(context.Background(), ConnectOverrides{
		Hostname: Some(host),
		Port:     Some(port),
		Timeout:  Some(5 * time.Second),
	})
	if err != nil {
		t.Fatalf("ConnectWith failed: %v", err)
	}
}

func TestConnectRefused(t *testing.T) {
	// Grab a port and close it so nothing is listening there.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	config := DefaultClientConfig()
	config.Hostname = "127.0.0.1"
	config.Port = port
	config.ConnectTimeout = 2 * time.Second

	client, err := NewClient(config)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := client.Connect(context.Background()); !errors.Is(err, ErrConnectFailed) {
		t.Errorf("Connect error = %v, want ErrConnectFailed", err)
	}
}

func TestDefaultPort(t *testing.T) {
	if got := defaultPort(false); got != 25 {
		t.Errorf("defaultPort(false) = %d, want 25", got)
	}
	if got := defaultPort(true); got != 465 {
		t.Errorf("defaultPort(true) = %d, want 465", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	ts := newTestServer(t, func(s *serverConn) {
		greet(s)
	})

	client := connectTestClient(t, ts)
	client.Close()
	client.Close()
	client.Close()

	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}

func TestCommandAfterClose(t *testing.T) {
	ts := newTestServer(t, func(s *serverConn) {
		greet(s)
	})

	client := connectTestClient(t, ts)
	client.Close()

	if _, err := client.Noop(); !errors.Is(err, ErrServerDisconnected) {
		t.Errorf("Noop after Close error = %v, want ErrServerDisconnected", err)
	}
}

func TestReconnectAfterClose(t *testing.T) {
	ts := newTestServer(t, func(s *serverConn) {
		greet(s)
	})

	client := connectTestClient(t, ts)
	client.Close()

	if _, err := client.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after reconnect")
	}
}

func TestNewClientValidatesTLSParams(t *testing.T) {
	config := DefaultClientConfig()
	config.ClientCert = "/tmp/cert.pem"

	if _, err := NewClient(config); err == nil {
		t.Error("NewClient accepted ClientCert without ClientKey")
	}

	config = DefaultClientConfig()
	config.TLSConfig = &tls.Config{}
	config.CertBundle = "/tmp/ca.pem"

	if _, err := NewClient(config); err == nil {
		t.Error("NewClient accepted TLSConfig together with CertBundle")
	}
}

// =============================================================================
// Session commands
// =============================================================================

func TestEhloRecordsExtensions(t *testing.T) {
	ts := newTestServer(t, func(s *serverConn) {
		greet(s)
		s.acceptEhlo("SIZE 35882577", "8BITMIME", "STARTTLS", "AUTH PLAIN LOGIN")
	})

	client := connectTestClient(t, ts)
	if _, err := client.Ehlo(""); err != nil {
		t.Fatalf("Ehlo failed: %v", err)
	}

	if !client.IsESMTP() {
		t.Error("IsESMTP() = false after EHLO")
	}
	for _, ext := range []string{"size", "8bitmime", "starttls", "auth"} {
		if !client.SupportsExtension(ext) {
			t.Errorf("SupportsExtension(%q) = false", ext)
		}
	}
	if got := client.MaxSize(); got != 35882577 {
		t.Errorf("MaxSize() = %d, want 35882577", got)
	}

	mechs := client.AuthMechanisms()
	for _, want := range []string{"plain", "login"} {
		if !containsString(mechs, want) {
			t.Errorf("AuthMechanisms() = %v, missing %q", mechs, want)
		}
	}
}

func TestHelloFallsBackToHelo(t *testing.T) {
	ts := newTestServer(t, func(s *serverConn) {
		greet(s)
		s.expect("EHLO")
		s.reply("500 unrecognized command")
		s.expect("HELO")
		s.reply("250 mail.test")
	})

	client := connectTestClient(t, ts)
	if err := client.Hello(); err != nil {
		t.Fatalf("Hello failed: %v", err)
	}
	if client.IsESMTP() {
		t.Error("IsESMTP() = true after HELO fallback")
	}
}

func TestCommandsIdentifyFirst(t *testing.T) {
	ts := newTestServer(t, func(s *serverConn) {
		greet(s)
		s.acceptEhlo("SIZE 1000")
		s.expect("NOOP")
		s.reply("250 ok")
	})

	client := connectTestClient(t, ts)
	if _, err := client.Noop(); err != nil {
		t.Fatalf("Noop failed: %v", err)
	}

	commands := ts.sentCommands()
	if len(commands) != 2 || !strings.HasPrefix(commands[0], "EHLO") || commands[1] != "NOOP" {
		t.Errorf("command order = %v, want [EHLO, NOOP]", commands)
	}
}

func TestVrfyAcceptsAmbiguousReply(t *testing.T) {
	ts := newTestServer(t, func(s *serverConn) {
		greet(s)
		s.acceptEhlo()
		s.expect("VRFY alice@example.com")
		s.reply("252 send some mail, I'll try my best")
	})

	client := connectTestClient(t, ts)
	resp, err := client.Vrfy("Alice <alice@example.com>")
	if err != nil {
		t.Fatalf("Vrfy failed: %v", err)
	}
	if resp.Code != CodeCannotVRFY {
		t.Errorf("Vrfy code = %d, want 252", resp.Code)
	}
}

func TestQuitClosesConnection(t *testing.T) {
	ts := newTestServer(t, func(s *serverConn) {
		greet(s)
		s.expect("QUIT")
		s.reply("221 bye")
	})

	client := connectTestClient(t, ts)
	resp, err := client.Quit()
	if err != nil {
		t.Fatalf("Quit failed: %v", err)
	}
	if resp.Code != CodeServiceClosing {
		t.Errorf("Quit code = %d, want 221", resp.Code)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Quit")
	}
}

func Test421ShutsDownSession(t *testing.T) {
	ts := newTestServer(t, func(s *serverConn) {
		greet(s)
		s.acceptEhlo()
		s.expect("NOOP")
		s.reply("421 mail.test closing, too busy")
	})

	client := connectTestClient(t, ts)
	_, err := client.Noop()
	if err == nil {
		t.Fatal("Noop succeeded despite 421")
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after 421")
	}
}

// helpers shared with other test files

func containsString(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}

// assertCommandSent fails unless a recorded command starts with prefix.
func assertCommandSent(t *testing.T, ts *testServer, prefix string) {
	t.Helper()
	for _, cmd := range ts.sentCommands() {
		if strings.HasPrefix(cmd, prefix) {
			return
		}
	}
	t.Errorf("no %q command sent; got %v", prefix, ts.sentCommands())
}

// assertCommandNotSent fails if any recorded command starts with prefix.
func assertCommandNotSent(t *testing.T, ts *testServer, prefix string) {
	t.Helper()
	for _, cmd := range ts.sentCommands() {
		if strings.HasPrefix(cmd, prefix) {
			t.Errorf("unexpected %q command sent: %v", prefix, ts.sentCommands())
		}
	}
}
