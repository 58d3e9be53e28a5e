// Package cryptostore encrypts and persists OAuth credentials for platform
// connections. Every ciphertext round-trips through a verify-before-commit
// decrypt so a bad key or corrupted row is caught at write time, not the
// next time a connector tries to use the connection.
package cryptostore

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/hkdf"
)

// ErrCryptoValidation is returned when a stored ciphertext fails to decrypt
// with the configured key, or when the round-trip verification after an
// encrypt does not reproduce the original plaintext.
var ErrCryptoValidation = errors.New("cryptostore: credential validation failed")

// ErrNotFound is returned when no credentials exist for a connection.
var ErrNotFound = errors.New("cryptostore: credentials not found")

// Credentials is the decrypted OAuth material for a platform connection.
// Never log a value of this type.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

// hkdfInfo scopes the derived key to this package so the same master secret
// used elsewhere can't accidentally collide with a key derived here.
const hkdfInfo = "singura/cryptostore/credentials"

// Store encrypts Credentials with AES-256-GCM before persisting them and
// decrypts on read. The master key is derived from a hex-encoded secret via
// HKDF-SHA-256.
type Store struct {
	pool       *pgxpool.Pool
	key        [32]byte
	keyVersion int
}

// New builds a Store from a hex-encoded master key of any length — the key
// is stretched/compressed to 32 bytes via HKDF-SHA-256 so operators aren't
// required to hand-generate an exact-length secret.
func New(pool *pgxpool.Pool, masterKeyHex string, keyVersion int) (*Store, error) {
	if masterKeyHex == "" {
		return nil, errors.New("cryptostore: master key is empty")
	}
	raw, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("cryptostore: decoding master key: %w", err)
	}

	var key [32]byte
	if _, err := io.ReadFull(hkdf.New(sha256.New, raw, nil, []byte(hkdfInfo)), key[:]); err != nil {
		return nil, fmt.Errorf("cryptostore: deriving key: %w", err)
	}

	return &Store{
		pool:       pool,
		key:        key,
		keyVersion: keyVersion,
	}, nil
}

// Store encrypts creds and upserts them for connectionID. It decrypts the
// freshly sealed ciphertext before writing the row and aborts
// with ErrCryptoValidation if the round trip doesn't match, rather than
// leaving an unreadable row behind.
func (s *Store) Store(ctx context.Context, connectionID uuid.UUID, creds Credentials) error {
	plaintext, err := encodeCredentials(creds)
	if err != nil {
		return fmt.Errorf("cryptostore: encoding credentials: %w", err)
	}

	nonce := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("cryptostore: generating nonce: %w", err)
	}

	ciphertext, err := s.seal(nonce, plaintext)
	if err != nil {
		return fmt.Errorf("cryptostore: sealing credentials: %w", err)
	}

	roundTrip, err := s.open(nonce, ciphertext)
	if err != nil {
		return fmt.Errorf("%w: post-encrypt verification: %v", ErrCryptoValidation, err)
	}
	if !bytes.Equal(roundTrip, plaintext) {
		return fmt.Errorf("%w: post-encrypt verification: decrypted bytes differ", ErrCryptoValidation)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO encrypted_credentials (connection_id, ciphertext, nonce, key_version, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (connection_id) DO UPDATE SET
			ciphertext = EXCLUDED.ciphertext,
			nonce = EXCLUDED.nonce,
			key_version = EXCLUDED.key_version,
			updated_at = now()
	`, connectionID, ciphertext, nonce, s.keyVersion)
	if err != nil {
		return fmt.Errorf("cryptostore: persisting credentials: %w", err)
	}

	return nil
}

// Get decrypts and returns the credentials for connectionID.
func (s *Store) Get(ctx context.Context, connectionID uuid.UUID) (Credentials, error) {
	var ciphertext, nonce []byte
	err := s.pool.QueryRow(ctx,
		`SELECT ciphertext, nonce FROM encrypted_credentials WHERE connection_id = $1`,
		connectionID,
	).Scan(&ciphertext, &nonce)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credentials{}, ErrNotFound
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("cryptostore: loading credentials: %w", err)
	}

	plaintext, err := s.open(nonce, ciphertext)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrCryptoValidation, err)
	}

	creds, err := decodeCredentials(plaintext)
	if err != nil {
		return Credentials{}, fmt.Errorf("cryptostore: decoding credentials: %w", err)
	}
	return creds, nil
}

// Remove deletes the credentials for connectionID. It is not an error to
// remove credentials that don't exist.
func (s *Store) Remove(ctx context.Context, connectionID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM encrypted_credentials WHERE connection_id = $1`, connectionID)
	if err != nil {
		return fmt.Errorf("cryptostore: removing credentials: %w", err)
	}
	return nil
}

func (s *Store) seal(nonce, plaintext []byte) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

func (s *Store) open(nonce, ciphertext []byte) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func (s *Store) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
