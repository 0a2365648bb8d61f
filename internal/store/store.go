// Package store is the persistence layer for the lead monitor. All reads and
// writes go through raw SQL over database/sql; the unique constraints in the
// schema are the arbiters for dedupe and idempotency, so callers treat
// ErrDuplicate as a benign outcome rather than a failure.
package store

import (
	"errors"

	"github.com/lib/pq"

	fieldcrypt "github.com/trofimovm/telegram-lead-monitor/pkg/crypto"
	"github.com/trofimovm/telegram-lead-monitor/pkg/database"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

type Store struct {
	db  database.PostgresConn
	enc *fieldcrypt.FieldEncryptor // nil = no encryption (backward-compatible)
}

func NewStore(db database.PostgresConn, enc *fieldcrypt.FieldEncryptor) *Store {
	return &Store{db: db, enc: enc}
}

func (s *Store) encryptField(plaintext string) (string, error) {
	if s.enc == nil {
		return plaintext, nil
	}
	return s.enc.Encrypt(plaintext)
}

func (s *Store) decryptField(stored string) (string, error) {
	if s.enc == nil {
		return stored, nil
	}
	return s.enc.Decrypt(stored)
}

// mapUniqueViolation converts a Postgres unique-violation into ErrDuplicate so
// callers can branch on errors.Is without importing pq.
func mapUniqueViolation(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}
