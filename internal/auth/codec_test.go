package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestCodec(t *testing.T) (*Codec, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	codec, err := NewCodec(testSecret, clock.Now)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	return codec, clock
}

func TestNewCodec_MissingSecret(t *testing.T) {
	if _, err := NewCodec("", nil); !errors.Is(err, ErrMissingSecret) {
		t.Errorf("NewCodec(\"\") error = %v, want ErrMissingSecret", err)
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	codec, clock := newTestCodec(t)

	claims := &AccessClaims{Email: "u1@example.com", Role: RoleUser, Type: TokenTypeAccess}
	claims.Subject = "U1"

	raw, err := codec.Sign(claims, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	var got AccessClaims
	if err := codec.Verify(raw, &got); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got.Subject != "U1" {
		t.Errorf("Subject = %q, want %q", got.Subject, "U1")
	}
	if got.Email != "u1@example.com" {
		t.Errorf("Email = %q, want %q", got.Email, "u1@example.com")
	}
	if got.ID == "" {
		t.Error("ID (jti) should be set")
	}
	if !got.IssuedAt.Time.Equal(clock.Now()) {
		t.Errorf("IssuedAt = %v, want %v", got.IssuedAt.Time, clock.Now())
	}
	if !got.ExpiresAt.Time.Equal(clock.Now().Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt.Time, clock.Now().Add(time.Hour))
	}
}

func TestCodec_UniqueIDs(t *testing.T) {
	codec, _ := newTestCodec(t)

	first, _ := codec.Sign(&AccessClaims{Type: TokenTypeAccess}, time.Hour)
	second, _ := codec.Sign(&AccessClaims{Type: TokenTypeAccess}, time.Hour)
	if first == second {
		t.Error("two signings in the same second should differ")
	}
}

func TestCodec_Expired(t *testing.T) {
	codec, clock := newTestCodec(t)

	raw, err := codec.Sign(&AccessClaims{Type: TokenTypeAccess}, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	clock.Advance(time.Hour - time.Second)
	if err := codec.Verify(raw, &AccessClaims{}); err != nil {
		t.Fatalf("Verify() before expiry error = %v", err)
	}

	clock.Advance(2 * time.Second)
	err = codec.Verify(raw, &AccessClaims{})
	if !errors.Is(err, ErrCredentialExpired) {
		t.Errorf("Verify() after expiry error = %v, want ErrCredentialExpired", err)
	}
	if errors.Is(err, ErrCredentialInvalid) {
		t.Error("expired credential should not also be ErrCredentialInvalid")
	}
}

func TestCodec_Tampered(t *testing.T) {
	codec, _ := newTestCodec(t)

	// Several credentials so the final signature character takes different
	// values, including ones with unused low bits.
	for n := 0; n < 20; n++ {
		raw, err := codec.Sign(&AccessClaims{Type: TokenTypeAccess}, time.Hour)
		if err != nil {
			t.Fatalf("Sign() error = %v", err)
		}
		for i := 0; i < len(raw); i++ {
			b := []byte(raw)
			b[i] ^= 0x01
			if err := codec.Verify(string(b), &AccessClaims{}); !errors.Is(err, ErrCredentialInvalid) {
				t.Fatalf("Verify() with byte %d/%d flipped (%q->%q) error = %v, want ErrCredentialInvalid",
					i, len(raw), raw[i], b[i], err)
			}
		}
	}
}

func TestCodec_NonCanonicalSignature(t *testing.T) {
	codec, _ := newTestCodec(t)

	raw, err := codec.Sign(&AccessClaims{Type: TokenTypeAccess}, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	// A 32-byte HS256 signature leaves two unused bits in its last character.
	// Setting them decodes to the same bytes under lenient decoding.
	for _, alt := range sameBytesEncodings(raw) {
		if err := codec.Verify(alt, &AccessClaims{}); !errors.Is(err, ErrCredentialInvalid) {
			t.Errorf("Verify(%q...) error = %v, want ErrCredentialInvalid", alt[len(alt)-4:], err)
		}
	}
}

// sameBytesEncodings returns raw with its last character replaced by each
// character that differs only in the two low bits.
func sameBytesEncodings(raw string) []string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	last := strings.IndexByte(alphabet, raw[len(raw)-1])
	var out []string
	for low := 0; low < 4; low++ {
		v := last&^3 | low
		if v == last {
			continue
		}
		out = append(out, raw[:len(raw)-1]+string(alphabet[v]))
	}
	return out
}

func TestCodec_Invalid(t *testing.T) {
	codec, clock := newTestCodec(t)

	other, err := NewCodec("a-completely-different-secret-value!!", clock.Now)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	foreign, _ := other.Sign(&AccessClaims{Type: TokenTypeAccess}, time.Hour)

	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"garbage", "not-a-credential"},
		{"wrong secret", foreign},
		{"alg none", "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJVMSIsImV4cCI6NDEwMjQ0NDgwMH0."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := codec.Verify(tt.raw, &AccessClaims{}); !errors.Is(err, ErrCredentialInvalid) {
				t.Errorf("Verify() error = %v, want ErrCredentialInvalid", err)
			}
		})
	}
}

func TestCodec_PeekExpiry(t *testing.T) {
	codec, clock := newTestCodec(t)

	raw, _ := codec.Sign(&AccessClaims{Type: TokenTypeAccess}, 2*time.Hour)

	// Peeking ignores expiry and signature.
	clock.Advance(24 * time.Hour)
	exp, ok := codec.PeekExpiry(raw)
	if !ok {
		t.Fatal("PeekExpiry() ok = false, want true")
	}
	want := clock.Now().Add(-22 * time.Hour)
	if !exp.Equal(want) {
		t.Errorf("PeekExpiry() = %v, want %v", exp, want)
	}

	if _, ok := codec.PeekExpiry("garbage"); ok {
		t.Error("PeekExpiry(garbage) ok = true, want false")
	}
}
