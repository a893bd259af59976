package webhookauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	// HeaderSignature carries the body signature.
	HeaderSignature = "X-Webhook-Signature"

	signaturePrefix = "sha256="
)

var (
	ErrMissingSignature   = errors.New("missing webhook signature")
	ErrMalformedSignature = errors.New("malformed webhook signature")
	ErrSignatureMismatch  = errors.New("webhook signature mismatch")
)

// Verifier checks mac against body. mac is the decoded signature.
type Verifier interface {
	Verify(ctx context.Context, body, mac []byte) error
}

// ParseHeader decodes a "sha256=<hex>" header value.
func ParseHeader(v string) ([]byte, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, ErrMissingSignature
	}
	hexMac, ok := strings.CutPrefix(v, signaturePrefix)
	if !ok {
		return nil, ErrMalformedSignature
	}
	mac, err := hex.DecodeString(hexMac)
	if err != nil || len(mac) != sha256.Size {
		return nil, ErrMalformedSignature
	}
	return mac, nil
}

// Sign returns the header value for body under secret. Used by tests and
// by operators wiring a CMS sender.
func Sign(secret, body []byte) string {
	return signaturePrefix + hex.EncodeToString(computeMAC(secret, body))
}

func computeMAC(secret, body []byte) []byte {
	m := hmac.New(sha256.New, secret)
	m.Write(body)
	return m.Sum(nil)
}

// HMACVerifier verifies signatures with a shared secret.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(_ context.Context, body, mac []byte) error {
	if subtle.ConstantTimeCompare(computeMAC(v.secret, body), mac) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}
