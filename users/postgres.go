package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresRepository stores users in the users table. The same row carries
// the refresh_tokens list used by the aggregate session backend.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository over the given database.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ Provider = (*PostgresRepository)(nil)

const createQuery = `
INSERT INTO users (id, username, email, password_hash, roles, refresh_tokens, created_at)
VALUES ($1, $2, $3, $4, $5, '[]'::jsonb, $6)`

const getByIDQuery = `
SELECT id, username, email, password_hash, roles, created_at
FROM users WHERE id = $1`

const getByEmailQuery = `
SELECT id, username, email, password_hash, roles, created_at
FROM users WHERE email = $1`

// Create inserts the user. Unique-constraint violations on username or email
// surface as ErrDuplicate.
func (r *PostgresRepository) Create(ctx context.Context, u *User) error {
	roles, err := json.Marshal(u.Roles)
	if err != nil {
		return err
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, createQuery,
		u.ID, u.Username, u.Email, u.PasswordHash, roles, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("users: create: %w", err)
	}
	return nil
}

// GetByID fetches a user by id.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, getByIDQuery, id))
}

// GetByEmail fetches a user by email.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, getByEmailQuery, email))
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*User, error) {
	var (
		u     User
		roles []byte
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &roles, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: query: %w", err)
	}
	if err := json.Unmarshal(roles, &u.Roles); err != nil {
		return nil, fmt.Errorf("users: corrupt roles column: %w", err)
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// Fallback for drivers that do not expose the SQLSTATE.
	return strings.Contains(err.Error(), "duplicate key")
}
