// Package signature verifies the HMAC-SHA256 signatures the messaging
// platform attaches to webhook deliveries.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/awnumar/memguard"
)

// Prefix is the algorithm tag that precedes the hex digest in the
// X-Hub-Signature-256 header.
const Prefix = "sha256="

// Header is the request header carrying the signature.
const Header = "X-Hub-Signature-256"

// Verify reports whether header is a valid signature of body under secret.
// The MAC is computed over the exact raw bytes and compared in constant
// time. Malformed or missing headers and an empty secret are not authentic.
func Verify(body []byte, header string, secret []byte) bool {
	if len(secret) == 0 {
		return false
	}
	hexSig, ok := strings.CutPrefix(header, Prefix)
	if !ok {
		return false
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}
	return hmac.Equal(compute(body, secret), got)
}

// Sign returns the header value for body under secret.
func Sign(body, secret []byte) string {
	return Prefix + hex.EncodeToString(compute(body, secret))
}

func compute(body, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// Verifier holds the application secret sealed in a memguard Enclave and
// only opens it for the duration of a check.
type Verifier struct {
	secret *memguard.Enclave
}

// NewVerifier seals a copy of secret. The caller's slice is not modified.
// An empty secret yields a Verifier that rejects everything.
func NewVerifier(secret []byte) *Verifier {
	if len(secret) == 0 {
		return &Verifier{}
	}
	cp := make([]byte, len(secret))
	copy(cp, secret)
	// NewEnclave wipes cp.
	return &Verifier{secret: memguard.NewEnclave(cp)}
}

// Verify checks header against body.
func (v *Verifier) Verify(body []byte, header string) bool {
	if v == nil || v.secret == nil {
		return false
	}
	buf, err := v.secret.Open()
	if err != nil {
		return false
	}
	defer buf.Destroy()
	return Verify(body, header, buf.Bytes())
}

// Sign returns the header value for body. Returns "" if the secret is unset.
func (v *Verifier) Sign(body []byte) string {
	if v == nil || v.secret == nil {
		return ""
	}
	buf, err := v.secret.Open()
	if err != nil {
		return ""
	}
	defer buf.Destroy()
	return Sign(body, buf.Bytes())
}
