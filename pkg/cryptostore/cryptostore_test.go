package cryptostore

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	keyBytes := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, keyBytes); err != nil {
		t.Fatalf("generating test key: %v", err)
	}
	s, err := New(nil, hex.EncodeToString(keyBytes), 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSealOpenRoundTrip(t *testing.T) {
	s := testStore(t)

	creds := Credentials{
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		Scopes:       []string{"read", "write"},
	}

	plaintext, err := encodeCredentials(creds)
	if err != nil {
		t.Fatalf("encodeCredentials: %v", err)
	}

	nonce := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		t.Fatalf("generating nonce: %v", err)
	}

	ciphertext, err := s.seal(nonce, plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	decrypted, err := s.open(nonce, ciphertext)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	got, err := decodeCredentials(decrypted)
	if err != nil {
		t.Fatalf("decodeCredentials: %v", err)
	}

	if got.AccessToken != creds.AccessToken || got.RefreshToken != creds.RefreshToken {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, creds)
	}
	if !got.ExpiresAt.Equal(creds.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, creds.ExpiresAt)
	}
}

func TestOpenFailsWithWrongKey(t *testing.T) {
	s1 := testStore(t)
	s2 := testStore(t)

	plaintext, _ := encodeCredentials(Credentials{AccessToken: "x"})
	nonce := make([]byte, 12)
	io.ReadFull(rand.Reader, nonce)

	ciphertext, err := s1.seal(nonce, plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	if _, err := s2.open(nonce, ciphertext); err == nil {
		t.Error("expected open with a different key to fail")
	}
}

func TestNewRejectsEmptyKey(t *testing.T) {
	if _, err := New(nil, "", 1); err == nil {
		t.Error("expected New to reject an empty master key")
	}
}

func TestNewRejectsInvalidHex(t *testing.T) {
	if _, err := New(nil, "not-hex!!", 1); err == nil {
		t.Error("expected New to reject non-hex master key material")
	}
}
