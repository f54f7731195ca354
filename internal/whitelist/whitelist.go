package whitelist

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProviderDomains is the curated set of major mailbox providers whose
// senders bypass the whitelist and the per-domain rate bucket.
var ProviderDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"yahoo.co.uk":    true,
	"ymail.com":      true,
	"outlook.com":    true,
	"hotmail.com":    true,
	"live.com":       true,
	"msn.com":        true,
	"aol.com":        true,
	"icloud.com":     true,
	"me.com":         true,
	"proton.me":      true,
	"protonmail.com": true,
}

// IsProviderDomain reports whether domain belongs to the major provider set.
func IsProviderDomain(domain string) bool { return ProviderDomains[domain] }

// Entry is one whitelist row.
type Entry struct {
	Email             string
	Verified          bool
	VerificationToken string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Store persists whitelist entries in Postgres.
type Store struct {
	db *sql.DB
}

// NewStore wraps the given database handle.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Lookup returns (exists, verified) for an email address.
func (s *Store) Lookup(ctx context.Context, email string) (bool, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var verified bool
	err := s.db.QueryRowContext(ctx, `
		SELECT verified FROM whitelist_entries WHERE email = $1
	`, email).Scan(&verified)
	if err == sql.ErrNoRows {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("whitelist lookup: %w", err)
	}
	return true, verified, nil
}

// EnsureVerificationToken returns the entry's verification token, inserting
// the row with a fresh token when absent. The token is stable across
// repeated calls so re-sent verification emails carry the same link.
func (s *Store) EnsureVerificationToken(ctx context.Context, email string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	token := uuid.New().String()
	var existing string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO whitelist_entries (email, verified, verification_token, created_at, updated_at)
		VALUES ($1, false, $2, NOW(), NOW())
		ON CONFLICT (email) DO UPDATE SET updated_at = NOW()
		RETURNING verification_token
	`, email, token).Scan(&existing)
	if err != nil {
		return "", fmt.Errorf("ensure verification token: %w", err)
	}
	return existing, nil
}

// Verify flips an entry to verified when the token matches.
func (s *Store) Verify(ctx context.Context, email, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE whitelist_entries
		SET verified = true, updated_at = NOW()
		WHERE email = $1 AND verification_token = $2
	`, email, token)
	if err != nil {
		return false, fmt.Errorf("verify whitelist entry: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
