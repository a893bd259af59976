package webhookauth

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestParseHeader(t *testing.T) {
	good := Sign([]byte("k"), []byte("body"))
	tests := []struct {
		name    string
		in      string
		wantErr error
	}{
		{"valid", good, nil},
		{"valid with spaces", "  " + good + " ", nil},
		{"empty", "", ErrMissingSignature},
		{"no prefix", strings.TrimPrefix(good, "sha256="), ErrMalformedSignature},
		{"wrong algorithm", "sha1=abcd", ErrMalformedSignature},
		{"not hex", "sha256=zz", ErrMalformedSignature},
		{"short", "sha256=abcd", ErrMalformedSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mac, err := ParseHeader(tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err == nil && len(mac) != 32 {
				t.Fatalf("mac length = %d, want 32", len(mac))
			}
		})
	}
}

func TestHMACVerifier(t *testing.T) {
	v := NewHMACVerifier("s3cret")
	body := []byte(`{"post":{"id":7}}`)

	mac, err := ParseHeader(Sign([]byte("s3cret"), body))
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Verify(context.Background(), body, mac); err != nil {
		t.Fatalf("Verify valid: %v", err)
	}
	if err := v.Verify(context.Background(), []byte(`{"post":{"id":8}}`), mac); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("Verify tampered body = %v, want mismatch", err)
	}

	other, _ := ParseHeader(Sign([]byte("other"), body))
	if err := v.Verify(context.Background(), body, other); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("Verify wrong key = %v, want mismatch", err)
	}
}

func TestSign_KnownVector(t *testing.T) {
	// RFC 4231 test case 2
	got := Sign([]byte("Jefe"), []byte("what do ya want for nothing?"))
	want := "sha256=5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"
	if got != want {
		t.Fatalf("Sign = %q, want %q", got, want)
	}
}
