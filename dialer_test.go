package shrike

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/veldtlabs/shrike/dns"
	"github.com/veldtlabs/shrike/mail"
)

// newTestDialer points a Dialer at ts with short timeouts.
func newTestDialer(ts *testServer) *Dialer {
	host, port := ts.hostPort()
	d := NewDialer(host, port)
	d.LocalName = "client.test"
	d.ConnectTimeout = 5 * time.Second
	d.ReadTimeout = 5 * time.Second
	d.WriteTimeout = 5 * time.Second
	return d
}

func TestDialNegotiatesAndAuthenticates(t *testing.T) {
	ts := newTestServer(t, func(s *serverConn) {
		greet(s)
		s.acceptEhlo("AUTH PLAIN")
		s.expect("AUTH PLAIN")
		s.reply("235 2.7.0 accepted")
	})

	d := newTestDialer(ts)
	d.Auth = &ClientAuth{Username: "alice", Password: "swordfish"}

	client, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	if !client.IsAuthenticated() {
		t.Error("IsAuthenticated() = false after negotiated dial")
	}
}

func TestDialStartTLSWhenAvailable(t *testing.T) {
	cert, pool := generateTestCert(t)

	ts := newTestServer(t, func(s *serverConn) {
		greet(s)
		s.acceptEhlo("STARTTLS")
		s.expect("STARTTLS")
		s.reply("220 go ahead")
		if !upgradeServerTLS(s, cert) {
			return
		}
		s.acceptEhlo("AUTH PLAIN")
	})

	d := newTestDialer(ts)
	d.TLSConfig = &tls.Config{RootCAs: pool, ServerName: "mail.test"}

	client, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	if !client.IsTLS() {
		t.Error("IsTLS() = false, opportunistic upgrade skipped")
	}
	// Post-upgrade EHLO replaces the pre-upgrade extension set.
	if !client.SupportsExtension(ExtAuth) {
		t.Error("post-upgrade extensions not recorded")
	}
}

func TestDialStartTLSAlwaysUnsupported(t *testing.T) {
	ts := newTestServer(t, func(s *serverConn) {
		greet(s)
		s.acceptEhlo("SIZE 1000")
	})

	d := newTestDialer(ts)
	d.StartTLS = StartTLSAlways

	if _, err := d.Dial(context.Background()); !errors.Is(err, ErrTLSNotSupported) {
		t.Errorf("Dial error = %v, want ErrTLSNotSupported", err)
	}
}

func TestDialStartTLSNever(t *testing.T) {
	ts := newTestServer(t, func(s *serverConn) {
		greet(s)
		s.acceptEhlo("STARTTLS")
	})

	d := newTestDialer(ts)
	d.StartTLS = StartTLSNever

	client, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	if client.IsTLS() {
		t.Error("IsTLS() = true despite StartTLSNever")
	}
	assertCommandNotSent(t, ts, "STARTTLS")
}

func TestDialMX(t *testing.T) {
	ts := newTestServer(t, func(s *serverConn) {
		greet(s)
		s.acceptEhlo("SIZE 1000")
	})

	d := newTestDialer(ts)
	d.Resolver = dns.MockResolver{
		MX: map[string][]*net.MX{
			"example.com.": {{Host: "127.0.0.1.", Pref: 10}},
		},
	}

	client, err := d.DialMX(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("DialMX failed: %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after DialMX")
	}
}

func TestDialMXResolutionFailure(t *testing.T) {
	d := NewDialer("", 25)
	d.Resolver = dns.MockResolver{
		Fail: []string{"mx example.com."},
	}

	if _, err := d.DialMX(context.Background(), "example.com"); !errors.Is(err, dns.ErrDNSServFail) {
		t.Errorf("DialMX error = %v, want ErrDNSServFail", err)
	}
}

func TestDialAndSend(t *testing.T) {
	ts := newTestServer(t, func(s *serverConn) {
		greet(s)
		s.acceptEhlo("SIZE 1000000")
		acceptTransaction(s, 1)
		s.expect("QUIT")
		s.reply("221 bye")
	})

	msg := mail.NewBuilder().
		From("alice@example.com").
		To("bob@example.com").
		Subject("hello").
		TextBody("hi\n").
		MustBuild()

	failed, reply, err := newTestDialer(ts).DialAndSend(context.Background(), msg)
	if err != nil {
		t.Fatalf("DialAndSend failed: %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("failed = %v", failed)
	}
	if reply != "2.0.0 queued as 12345" {
		t.Errorf("reply = %q", reply)
	}
	assertCommandSent(t, ts, "QUIT")
}

func TestProbe(t *testing.T) {
	ts := newTestServer(t, func(s *serverConn) {
		greet(s)
		s.acceptEhlo("SIZE 35882577", "PIPELINING", "8BITMIME", "SMTPUTF8", "DSN", "AUTH PLAIN LOGIN")
		s.expect("QUIT")
		s.reply("221 bye")
	})

	caps, err := newTestDialer(ts).Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}

	if !caps.ESMTP {
		t.Error("ESMTP = false")
	}
	if caps.Greeting != "mail.test ESMTP ready" {
		t.Errorf("Greeting = %q", caps.Greeting)
	}
	if got := caps.ServerIP.String(); got != "127.0.0.1" {
		t.Errorf("ServerIP = %q, want 127.0.0.1", got)
	}
	if caps.MaxSize != 35882577 {
		t.Errorf("MaxSize = %d", caps.MaxSize)
	}
	if !caps.Pipelining || !caps.EightBitMIME || !caps.SMTPUTF8 || !caps.DSN {
		t.Errorf("capability flags wrong: %+v", caps)
	}
	if caps.TLS || caps.STARTTLS {
		t.Errorf("TLS flags wrong for plaintext probe: %+v", caps)
	}
	if !containsString(caps.Auth, "plain") || !containsString(caps.Auth, "login") {
		t.Errorf("Auth = %v", caps.Auth)
	}
}

func TestProbePlaintextSkipsUpgradeAndAuth(t *testing.T) {
	ts := newTestServer(t, func(s *serverConn) {
		greet(s)
		s.acceptEhlo("STARTTLS", "AUTH PLAIN")
		s.expect("QUIT")
		s.reply("221 bye")
	})

	d := newTestDialer(ts)
	d.Auth = &ClientAuth{Username: "alice", Password: "swordfish"}

	caps, err := d.ProbePlaintext(context.Background())
	if err != nil {
		t.Fatalf("ProbePlaintext failed: %v", err)
	}

	if !caps.STARTTLS {
		t.Error("STARTTLS = false, advertisement not recorded")
	}
	if caps.TLS {
		t.Error("TLS = true on a plaintext probe")
	}
	assertCommandNotSent(t, ts, "STARTTLS")
	assertCommandNotSent(t, ts, "AUTH")
}
