// Package session persists refresh-token state and provides the atomic
// rotation primitive the reuse-detection protocol is built on.
//
// Two interchangeable backends implement [Store]: a Redis keyed store and a
// Postgres aggregate store. Both guarantee that for a given refresh value at
// most one Rotate call ever succeeds; every other contemporaneous or later
// caller presenting that value observes [ErrReuseDetected].
package session

import (
	"context"
	"errors"
	"time"
)

// ErrReuseDetected is returned by Rotate when the presented value is not
// currently recorded for the subject: already rotated away, already revoked,
// expired, or never issued. The store cannot distinguish those cases and the
// caller must not try to.
var ErrReuseDetected = errors.New("refresh token not current")

// ErrStoreUnavailable wraps backend I/O failures. It is fatal for the request
// and must never be collapsed into success or reuse.
var ErrStoreUnavailable = errors.New("session store unavailable")

// Store records which refresh values are live for each subject. The recorded
// set is the sole source of validity: a value absent from the store is dead
// no matter what its signature says.
//
// Implementations must make Rotate atomic against concurrent callers without
// in-process locks, so multiple service processes can share one backend.
type Store interface {
	// Add records value for the subject with the given lifetime.
	Add(ctx context.Context, subjectID, value string, ttl time.Duration) error

	// Contains reports whether value is currently recorded for the subject.
	Contains(ctx context.Context, subjectID, value string) (bool, error)

	// Rotate atomically replaces oldValue with newValue for the subject.
	// If oldValue is not currently recorded it returns ErrReuseDetected and
	// must not record newValue. Two callers racing on the same oldValue see
	// exactly one success and one ErrReuseDetected.
	Rotate(ctx context.Context, subjectID, oldValue, newValue string, ttl time.Duration) error

	// RevokeAll removes every recorded value for the subject. Idempotent.
	RevokeAll(ctx context.Context, subjectID string) error

	// RevokeOne removes a single value. Absent values are not an error.
	RevokeOne(ctx context.Context, subjectID, value string) error
}
