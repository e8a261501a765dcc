// Shrike is an RFC-compliant ESMTP client library for Go.
//
// It implements the full client side of the SMTP protocol: connection
// lifecycle, command/response framing, ESMTP extension negotiation,
// SASL authentication (CRAM-MD5, PLAIN, LOGIN), STARTTLS transport
// upgrade, and the mail transaction sequence with per-recipient
// partial-failure reporting.
//
// # Quick Start
//
// Connect, negotiate, and send a message:
//
//	client, err := shrike.NewClient(&shrike.ClientConfig{
//	    Hostname:  "smtp.example.com",
//	    Port:      587,
//	    LocalName: "client.example.com",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if _, err := client.Connect(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.Hello()
//	if client.SupportsExtension("starttls") {
//	    client.StartTLS()
//	    client.Hello()
//	}
//	client.Login("user", "pass")
//
//	failed, reply, err := client.Sendmail(
//	    "sender@example.com",
//	    []string{"one@example.com", "two@example.com"},
//	    []byte("From: sender@example.com\r\nSubject: hi\r\n\r\nHello"),
//	    nil, nil,
//	)
//	client.Quit()
//
// Sendmail succeeds if at least one recipient is accepted; rejected
// recipients are returned in the failed map with the server's status
// for each. If every recipient is rejected, a *RecipientsRefused error
// is returned and DATA is never sent.
//
// # Dialer
//
// For the common connect-negotiate-authenticate flow in one call:
//
//	dialer := shrike.NewDialer("smtp.example.com", 587)
//	dialer.Auth = &shrike.ClientAuth{Username: "user", Password: "pass"}
//	client, err := dialer.Dial(context.Background())
//
// The dialer upgrades to TLS via STARTTLS whenever the server
// advertises it; set StartTLS to StartTLSAlways or StartTLSNever to
// force or suppress the upgrade. DialMX resolves the recipient
// domain's MX records and connects to the best mail exchanger.
//
// # Messages
//
// The mail subpackage builds and flattens RFC 5322 messages:
//
//	msg, err := mail.NewBuilder().
//	    From("sender@example.com").
//	    To("rcpt@example.com").
//	    Subject("hi").
//	    TextBody("Hello").
//	    Build()
//
//	failed, reply, err := client.SendMessage(msg, nil)
//
// SendMessage extracts the envelope from the message headers
// (preferring Resent-* headers when a single resend block is present)
// and never transmits Bcc or Resent-Bcc headers.
//
// # RFC Compliance
//
//   - RFC 5321: Simple Mail Transfer Protocol
//   - RFC 1869: SMTP Service Extensions
//   - RFC 3207: SMTP Service Extension for Secure SMTP over TLS
//   - RFC 4954: SMTP Service Extension for Authentication
//   - RFC 1870: SMTP Service Extension for Message Size Declaration
//   - RFC 6152: SMTP Service Extension for 8-bit MIME Transport
//   - RFC 6531: SMTP Extension for Internationalized Email
package shrike
