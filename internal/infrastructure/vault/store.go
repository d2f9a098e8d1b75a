// Package vault is the append-only credential store. Provider access tokens
// go in and never come back out except by reference id; there is no delete,
// by design — the provider's terms require retaining exchanged tokens even
// when the connection they belong to was never persisted.
package vault

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"bankfeed/internal/infrastructure/crypto"
	"bankfeed/internal/infrastructure/postgres"
)

// ErrNotFound is returned when no credential exists for an id.
var ErrNotFound = errors.New("credential not found")

var (
	hkdfSalt = []byte("bankfeed-vault-v1")
	hkdfInfo = []byte("credential-sealing")
)

type Store struct {
	db  *postgres.DB
	enc *crypto.Encryptor
}

// New derives the sealing key from the configured master key and returns a
// store over the credentials table.
func New(db *postgres.DB, masterKey string) (*Store, error) {
	key, err := deriveKey(masterKey)
	if err != nil {
		return nil, err
	}

	enc, err := crypto.NewEncryptor(string(key))
	if err != nil {
		return nil, fmt.Errorf("failed to build encryptor: %w", err)
	}

	return &Store{db: db, enc: enc}, nil
}

// deriveKey stretches the master key into the 32-byte AES key with
// HKDF-SHA256. Deterministic: the same master key always yields the same
// sealing key, so existing rows stay readable across restarts.
func deriveKey(masterKey string) ([]byte, error) {
	if masterKey == "" {
		return nil, errors.New("vault master key is required")
	}

	r := hkdf.New(sha256.New, []byte(masterKey), hkdfSalt, hkdfInfo)
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive vault key: %w", err)
	}
	return key, nil
}

// Create appends an encrypted secret and returns its opaque reference id.
func (s *Store) Create(ctx context.Context, secret string) (string, error) {
	ciphertext, err := s.enc.Encrypt(secret)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt credential: %w", err)
	}

	id := uuid.NewString()
	query := `INSERT INTO credentials (id, ciphertext) VALUES ($1, $2)`

	if _, err := s.db.ExecContext(ctx, query, id, ciphertext); err != nil {
		return "", fmt.Errorf("failed to store credential: %w", err)
	}

	return id, nil
}

// Read decrypts and returns the secret for an id.
func (s *Store) Read(ctx context.Context, id string) (string, error) {
	query := `SELECT ciphertext FROM credentials WHERE id = $1`

	var ciphertext string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&ciphertext)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read credential: %w", err)
	}

	secret, err := s.enc.Decrypt(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential: %w", err)
	}
	return secret, nil
}
