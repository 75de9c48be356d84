// Package users defines the user record this subsystem reads identities and
// roles from, and its Postgres repository. Sessions reference users by
// opaque id; the role list is read, never written, by the token paths.
package users

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no user matches the lookup.
var ErrNotFound = errors.New("user not found")

// ErrDuplicate is returned when a username or email is already taken.
var ErrDuplicate = errors.New("username or email already in use")

// User is the identity sessions belong to.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Roles        []string
	CreatedAt    time.Time
}

// Provider is the read/create surface the engine needs. The token paths only
// ever call GetByID; Create and GetByEmail serve registration and login.
type Provider interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
}
