package sasl

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// CramMD5 is the CRAM-MD5 challenge-response mechanism (RFC 2195).
// The password never crosses the wire, which makes it the preferred
// mechanism on plaintext connections.
type CramMD5 struct {
	username string
	password string
}

// NewCramMD5 creates a CRAM-MD5 mechanism with the given credentials.
func NewCramMD5(username, password string) *CramMD5 {
	return &CramMD5{username: username, password: password}
}

func (c *CramMD5) Name() string {
	return "cram-md5"
}

func (c *CramMD5) Start() (string, error) {
	// CRAM-MD5 has no initial response; the server speaks first.
	return "", nil
}

func (c *CramMD5) Next(challenge string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(challenge)
	if err != nil {
		return "", fmt.Errorf("sasl: malformed CRAM-MD5 challenge: %w", err)
	}
	response := c.username + " " + digest(c.password, decoded)
	return base64.StdEncoding.EncodeToString([]byte(response)), nil
}

// digest computes the hex HMAC-MD5 of the challenge keyed on secret.
func digest(secret string, challenge []byte) string {
	mac := hmac.New(md5.New, []byte(secret))
	mac.Write(challenge)
	return hex.EncodeToString(mac.Sum(nil))
}
