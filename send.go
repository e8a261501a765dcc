package shrike

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/veldtlabs/shrike/mail"
	"github.com/veldtlabs/shrike/utils"
)

// ErrNoSender is returned by SendMessage when neither the options nor
// the message headers name an envelope sender.
var ErrNoSender = errors.New("smtp: no sender specified and no From header in message")

// Sendmail performs a full mail transaction: MAIL FROM, one RCPT TO
// per recipient, then DATA with the transport-encoded message.
//
// Recipient failures are partial by design: refused recipients are
// collected into the returned map (address to refusal response) and
// the message is still delivered to the rest. Only when every
// recipient is refused does Sendmail fail, with *RecipientsRefused,
// before any DATA is sent. The string result is the server's final
// DATA reply text.
//
// Transactions are serialized: concurrent Sendmail calls on one
// client run one after another, never interleaved.
func (c *Client) Sendmail(sender string, recipients []string, message []byte, mailOptions, rcptOptions []string) (map[string]*Response, string, error) {
	if len(recipients) == 0 {
		return nil, "", ErrNoRecipients
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := c.ehloOrHeloIfNeeded(); err != nil {
		return nil, "", err
	}

	for _, opt := range mailOptions {
		if strings.EqualFold(opt, "SMTPUTF8") && !c.SupportsExtension(ExtSMTPUTF8) {
			return nil, "", fmt.Errorf("%w: SMTPUTF8", ErrNotSupported)
		}
	}

	options := mailOptions
	if c.SupportsExtension(ExtSize) {
		options = append([]string{fmt.Sprintf("SIZE=%d", len(message))}, mailOptions...)
	}

	failed, reply, err := c.transact(sender, recipients, message, options, rcptOptions)
	if err != nil {
		if needsReset(err) {
			// Best effort: clear the aborted envelope so the session
			// stays usable. A secondary failure here would only bury
			// the original error.
			_, _ = c.Rset()
		}
		return nil, "", err
	}

	c.logf("message sent",
		"sender", sender,
		"recipients", len(recipients)-len(failed),
		"refused", len(failed),
		"size", len(message))

	return failed, reply, nil
}

// transact runs the MAIL/RCPT/DATA sequence once.
func (c *Client) transact(sender string, recipients []string, message []byte, mailOptions, rcptOptions []string) (map[string]*Response, string, error) {
	if _, err := c.Mail(sender, mailOptions); err != nil {
		return nil, "", err
	}

	failed := map[string]*Response{}
	var refused []*RecipientRefused

	for _, recipient := range recipients {
		resp, err := c.Rcpt(recipient, rcptOptions)
		if err != nil {
			var rcptErr *RecipientRefused
			if !errors.As(err, &rcptErr) {
				return nil, "", err
			}
			refused = append(refused, rcptErr)
			failed[recipient] = resp
		}
	}

	if len(refused) == len(recipients) {
		return nil, "", &RecipientsRefused{Recipients: refused}
	}

	resp, err := c.Data(message)
	if err != nil {
		return nil, "", err
	}
	return failed, resp.Message, nil
}

// SendMessageOptions overrides envelope fields derived from the
// message headers.
type SendMessageOptions struct {
	// Sender overrides the envelope sender (otherwise Sender/From).
	Sender string

	// Recipients overrides the envelope recipients (otherwise
	// To/Cc/Bcc).
	Recipients []string

	// MailOptions and RcptOptions are passed through to Sendmail.
	MailOptions []string
	RcptOptions []string
}

// SendMessage submits a structured message: the envelope is derived
// from the headers (honoring Resent-* blocks), Bcc headers are
// stripped from the transmitted content, and the SMTPUTF8 and
// BODY=8BITMIME MAIL parameters are added automatically when the
// message needs them and the server supports them. Semantics
// otherwise match Sendmail.
func (c *Client) SendMessage(msg *mail.Message, opts *SendMessageOptions) (map[string]*Response, string, error) {
	if opts == nil {
		opts = &SendMessageOptions{}
	}

	sender, recipients, body, err := mail.Flatten(msg)
	if err != nil {
		return nil, "", err
	}
	if opts.Sender != "" {
		sender = opts.Sender
	}
	if len(opts.Recipients) > 0 {
		recipients = opts.Recipients
	}

	if sender == "" {
		return nil, "", ErrNoSender
	}
	if len(recipients) == 0 {
		return nil, "", ErrNoRecipients
	}

	if err := c.ehloOrHeloIfNeeded(); err != nil {
		return nil, "", err
	}

	mailOptions := slices.Clone(opts.MailOptions)

	if needsSMTPUTF8(sender, recipients) {
		if !c.SupportsExtension(ExtSMTPUTF8) {
			return nil, "", fmt.Errorf("%w: message requires SMTPUTF8", ErrNotSupported)
		}
		if !hasOption(mailOptions, "SMTPUTF8") {
			mailOptions = append(mailOptions, "SMTPUTF8")
		}
	}

	if c.SupportsExtension(Ext8BitMIME) && !hasOptionPrefix(mailOptions, "BODY=") {
		mailOptions = append(mailOptions, "BODY=8BITMIME")
	}

	return c.Sendmail(sender, recipients, body, mailOptions, opts.RcptOptions)
}

// needsSMTPUTF8 reports whether any envelope address requires the
// SMTPUTF8 extension.
func needsSMTPUTF8(sender string, recipients []string) bool {
	if utils.ContainsNonASCII(sender) {
		return true
	}
	for _, r := range recipients {
		if utils.ContainsNonASCII(r) {
			return true
		}
	}
	return false
}

func hasOption(options []string, name string) bool {
	for _, opt := range options {
		if strings.EqualFold(opt, name) {
			return true
		}
	}
	return false
}

func hasOptionPrefix(options []string, prefix string) bool {
	for _, opt := range options {
		if len(opt) >= len(prefix) && strings.EqualFold(opt[:len(prefix)], prefix) {
			return true
		}
	}
	return false
}
