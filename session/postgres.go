package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore is the aggregate backend: refresh tokens live as a JSONB
// list embedded in the owning users row, and every mutation is a single
// conditional UPDATE. Rotation never reads the list into the process; the
// row-level atomicity of the UPDATE is the whole concurrency story, and a
// zero-row result is the reuse signal.
//
// Each list element is {"value": <token>, "expires_at": <timestamptz>}.
// Expired elements are filtered on read and pruned on every write.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns an aggregate store over the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// live filters a refresh_tokens list down to non-expired entries.
const liveTokens = `COALESCE(
	(SELECT jsonb_agg(e) FROM jsonb_array_elements(refresh_tokens) e
	 WHERE (e->>'expires_at')::timestamptz > now()),
	'[]'::jsonb)`

const addQuery = `
UPDATE users SET refresh_tokens = ` + liveTokens + ` ||
	jsonb_build_array(jsonb_build_object(
		'value', $2::text,
		'expires_at', now() + make_interval(secs => $3)))
WHERE id = $1`

const containsQuery = `
SELECT EXISTS (
	SELECT 1 FROM users, jsonb_array_elements(refresh_tokens) e
	WHERE users.id = $1
	  AND e->>'value' = $2
	  AND (e->>'expires_at')::timestamptz > now())`

const rotateQuery = `
UPDATE users SET refresh_tokens = COALESCE(
	(SELECT jsonb_agg(e) FROM jsonb_array_elements(refresh_tokens) e
	 WHERE e->>'value' <> $2
	   AND (e->>'expires_at')::timestamptz > now()),
	'[]'::jsonb) ||
	jsonb_build_array(jsonb_build_object(
		'value', $3::text,
		'expires_at', now() + make_interval(secs => $4)))
WHERE id = $1
  AND EXISTS (
	SELECT 1 FROM jsonb_array_elements(refresh_tokens) e
	WHERE e->>'value' = $2
	  AND (e->>'expires_at')::timestamptz > now())`

const revokeAllQuery = `
UPDATE users SET refresh_tokens = '[]'::jsonb WHERE id = $1`

const revokeOneQuery = `
UPDATE users SET refresh_tokens = COALESCE(
	(SELECT jsonb_agg(e) FROM jsonb_array_elements(refresh_tokens) e
	 WHERE e->>'value' <> $2
	   AND (e->>'expires_at')::timestamptz > now()),
	'[]'::jsonb)
WHERE id = $1`

// Add appends the value to the subject's list, pruning expired entries on
// the way. The subject row must exist; sessions piggyback on the user record.
func (s *PostgresStore) Add(ctx context.Context, subjectID, value string, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx, addQuery, subjectID, value, ttl.Seconds())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: no user row for subject %s", ErrStoreUnavailable, subjectID)
	}
	return nil
}

// Contains reports membership, treating expired entries as absent.
func (s *PostgresStore) Contains(ctx context.Context, subjectID, value string) (bool, error) {
	var present bool
	if err := s.db.QueryRowContext(ctx, containsQuery, subjectID, value).Scan(&present); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return present, nil
}

// Rotate replaces oldValue with newValue in one conditional UPDATE. The WHERE
// clause only matches while oldValue is still live, so of two racing callers
// exactly one update affects a row; the other sees zero rows, which is the
// reuse signal. There is no read-modify-write anywhere in this path.
func (s *PostgresStore) Rotate(ctx context.Context, subjectID, oldValue, newValue string, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx, rotateQuery, subjectID, oldValue, newValue, ttl.Seconds())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n == 0 {
		return ErrReuseDetected
	}
	return nil
}

// RevokeAll empties the subject's list. A missing row is fine.
func (s *PostgresStore) RevokeAll(ctx context.Context, subjectID string) error {
	if _, err := s.db.ExecContext(ctx, revokeAllQuery, subjectID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeOne filters the value out of the list. Absent values and missing
// rows are fine.
func (s *PostgresStore) RevokeOne(ctx context.Context, subjectID, value string) error {
	if _, err := s.db.ExecContext(ctx, revokeOneQuery, subjectID, value); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Ping reports backend reachability for health checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
