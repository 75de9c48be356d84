package authcore

import (
	"errors"

	"github.com/openfeedhq/authcore/internal/rate"
	"github.com/openfeedhq/authcore/session"
)

var (
	// ErrInvalidCredentials is returned on login with an unknown email or a
	// wrong password; callers must not reveal which.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountExists is returned when registering an already-used username or email.
	ErrAccountExists = errors.New("account already exists")
	// ErrTokenInvalid is returned for an access token that fails signature,
	// shape, or expiry checks. Unauthenticated, never a server fault.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrRefreshInvalid is returned for a refresh envelope that fails
	// signature, shape, or expiry checks.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReuse is returned when a rotated-away or revoked refresh
	// value is presented again. Every session of the subject has been
	// revoked by the time the caller sees it.
	ErrRefreshReuse = errors.New("refresh token reuse detected")

	// ErrRateLimited is returned when a throttle budget is exhausted.
	ErrRateLimited = rate.ErrRateLimited
	// ErrStoreUnavailable is the session backend outage error; fatal for the
	// request and never collapsed into success or reuse.
	ErrStoreUnavailable = session.ErrStoreUnavailable
)
