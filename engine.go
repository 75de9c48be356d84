package authcore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openfeedhq/authcore/audit"
	"github.com/openfeedhq/authcore/internal/rate"
	"github.com/openfeedhq/authcore/jwt"
	"github.com/openfeedhq/authcore/password"
	"github.com/openfeedhq/authcore/session"
	"github.com/openfeedhq/authcore/users"
)

// defaultRole is granted to every account this subsystem creates. Richer
// role assignment is owned by the surrounding application.
const defaultRole = "user"

// Engine orchestrates issuance, rotation, and revocation of the two
// credential families. It owns every business rule in the subsystem; the
// stores beneath it are pure mechanisms.
type Engine struct {
	config   Config
	codec    *jwt.Manager
	sessions session.Store
	users    users.Provider
	hasher   *password.Hasher
	limiter  *rate.Limiter
	metrics  *Metrics
	logger   *slog.Logger
	auditor  *audit.Dispatcher
}

// Close flushes and stops the audit dispatcher. The Engine must not be used
// after Close.
func (e *Engine) Close() {
	e.auditor.Close()
}

func (e *Engine) emit(ctx context.Context, eventType, subjectID, email string, err error) {
	event := audit.Event{
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		SubjectID: subjectID,
		Email:     email,
		Success:   err == nil,
	}
	if err != nil {
		event.Error = err.Error()
	}
	e.auditor.Emit(ctx, event)
}

// Issue mints a fresh access/refresh pair for the subject and records the
// refresh value. This is the single issuance entry point: password login,
// registration, and the OAuth delegate all end up here.
func (e *Engine) Issue(ctx context.Context, subjectID string, roles []string) (TokenPair, error) {
	access, err := e.codec.CreateAccess(subjectID, roles)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access: %w", err)
	}
	refresh, err := e.codec.CreateRefresh(subjectID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue refresh: %w", err)
	}

	if err := e.sessions.Add(ctx, subjectID, refresh, e.codec.RefreshTTL()); err != nil {
		return TokenPair{}, err
	}

	e.metrics.tokensIssued()
	return TokenPair{Access: access, Refresh: refresh}, nil
}

// Rotate exchanges a presented refresh envelope for a new pair. The old
// value dies on success. A presented value that is no longer current means
// the credential was replayed; every session of the subject is revoked
// before the caller hears about it.
func (e *Engine) Rotate(ctx context.Context, presented string) (TokenPair, error) {
	claims, err := e.codec.ParseRefresh(presented)
	if err != nil {
		e.metrics.rotation(rotationInvalid)
		return TokenPair{}, ErrRefreshInvalid
	}
	subjectID := claims.Subject

	if err := e.limiter.AllowRefresh(ctx, subjectID); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			return TokenPair{}, ErrRateLimited
		}
		e.logger.Warn("refresh throttle unavailable, admitting request", "error", err)
	}

	next, err := e.codec.CreateRefresh(subjectID)
	if err != nil {
		e.metrics.rotation(rotationError)
		return TokenPair{}, fmt.Errorf("mint successor refresh: %w", err)
	}

	err = e.sessions.Rotate(ctx, subjectID, presented, next, e.codec.RefreshTTL())
	switch {
	case errors.Is(err, session.ErrReuseDetected):
		e.logger.Warn("refresh reuse detected, revoking all sessions",
			"subject", subjectID, "jti", claims.ID)
		if revokeErr := e.sessions.RevokeAll(ctx, subjectID); revokeErr != nil {
			e.logger.Error("cascading revocation failed",
				"subject", subjectID, "error", revokeErr)
		}
		e.metrics.rotation(rotationReuse)
		e.metrics.cascade()
		e.emit(ctx, audit.TypeReuseDetected, subjectID, "", ErrRefreshReuse)
		return TokenPair{}, ErrRefreshReuse
	case err != nil:
		e.metrics.rotation(rotationError)
		return TokenPair{}, err
	}

	u, err := e.users.GetByID(ctx, subjectID)
	if err != nil {
		// The subject vanished between issuance and rotation. The successor
		// value was already committed; take it back out.
		if errors.Is(err, users.ErrNotFound) {
			_ = e.sessions.RevokeOne(ctx, subjectID, next)
			e.metrics.rotation(rotationInvalid)
			return TokenPair{}, ErrRefreshInvalid
		}
		e.metrics.rotation(rotationError)
		return TokenPair{}, err
	}

	access, err := e.codec.CreateAccess(u.ID, u.Roles)
	if err != nil {
		e.metrics.rotation(rotationError)
		return TokenPair{}, fmt.Errorf("issue access: %w", err)
	}

	e.metrics.rotation(rotationRotated)
	e.metrics.tokensIssued()
	e.emit(ctx, audit.TypeRotate, subjectID, "", nil)
	return TokenPair{Access: access, Refresh: next}, nil
}

// RevokeOne is the logout path: it removes the presented refresh value from
// the store. A malformed or never-issued value is a silent success; logout
// must be idempotent.
func (e *Engine) RevokeOne(ctx context.Context, presented string) error {
	claims, err := e.codec.ParseRefresh(presented)
	if err != nil {
		return nil
	}
	if err := e.sessions.RevokeOne(ctx, claims.Subject, presented); err != nil {
		return err
	}
	e.emit(ctx, audit.TypeLogout, claims.Subject, "", nil)
	return nil
}

// RevokeAll removes every refresh value recorded for the subject.
func (e *Engine) RevokeAll(ctx context.Context, subjectID string) error {
	return e.sessions.RevokeAll(ctx, subjectID)
}

// ValidateAccess checks an access token and returns its claims. It is a
// pure codec delegate and never touches a store.
func (e *Engine) ValidateAccess(token string) (Claims, error) {
	parsed, err := e.codec.ParseAccess(token)
	if err != nil {
		return Claims{}, ErrTokenInvalid
	}
	claims := Claims{
		Subject: parsed.Subject,
		Roles:   parsed.Roles,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time
	}
	return claims, nil
}

// Register creates an account and issues its first token pair.
func (e *Engine) Register(ctx context.Context, username, email, pass string) (Session, error) {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)
	if username == "" || email == "" {
		return Session{}, fmt.Errorf("%w: username and email are required", ErrInvalidCredentials)
	}

	hash, err := e.hasher.Hash(pass)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	u := &users.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Roles:        []string{defaultRole},
	}
	if err := e.users.Create(ctx, u); err != nil {
		if errors.Is(err, users.ErrDuplicate) {
			e.emit(ctx, audit.TypeRegister, "", email, ErrAccountExists)
			return Session{}, ErrAccountExists
		}
		return Session{}, err
	}

	pair, err := e.Issue(ctx, u.ID, u.Roles)
	if err != nil {
		return Session{}, err
	}
	e.emit(ctx, audit.TypeRegister, u.ID, email, nil)
	return Session{User: userInfo(u), Tokens: pair}, nil
}

// Login verifies the password and issues a token pair. Unknown email and
// wrong password are indistinguishable to the caller.
func (e *Engine) Login(ctx context.Context, email, pass string) (Session, error) {
	email = normalizeEmail(email)

	if err := e.limiter.AllowLogin(ctx, email); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			return Session{}, ErrRateLimited
		}
		e.logger.Warn("login throttle unavailable, admitting request", "error", err)
	}

	u, err := e.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			e.emit(ctx, audit.TypeLogin, "", email, ErrInvalidCredentials)
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}

	ok, err := e.hasher.Verify(pass, u.PasswordHash)
	if err != nil {
		return Session{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		e.emit(ctx, audit.TypeLogin, u.ID, email, ErrInvalidCredentials)
		return Session{}, ErrInvalidCredentials
	}

	if err := e.limiter.ResetLogin(ctx, email); err != nil {
		e.logger.Warn("login throttle reset failed", "error", err)
	}

	pair, err := e.Issue(ctx, u.ID, u.Roles)
	if err != nil {
		return Session{}, err
	}
	e.emit(ctx, audit.TypeLogin, u.ID, email, nil)
	return Session{User: userInfo(u), Tokens: pair}, nil
}

// DelegateLogin serves the OAuth callback: the provider has already verified
// the external identity, so this finds or creates the matching account and
// goes straight to issuance. It never rotates.
func (e *Engine) DelegateLogin(ctx context.Context, email, displayName string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" {
		return Session{}, ErrInvalidCredentials
	}

	u, err := e.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, users.ErrNotFound):
		u, err = e.createSocialUser(ctx, email, displayName)
		if err != nil {
			return Session{}, err
		}
	case err != nil:
		return Session{}, err
	}

	pair, err := e.Issue(ctx, u.ID, u.Roles)
	if err != nil {
		return Session{}, err
	}
	e.emit(ctx, audit.TypeDelegateLogin, u.ID, email, nil)
	return Session{User: userInfo(u), Tokens: pair}, nil
}

func (e *Engine) createSocialUser(ctx context.Context, email, displayName string) (*users.User, error) {
	// Social accounts get a random password they can reset later; the
	// delegate path never checks it.
	secret := make([]byte, 20)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	hash, err := e.hasher.Hash(hex.EncodeToString(secret))
	if err != nil {
		return nil, err
	}

	u := &users.User{
		ID:           uuid.NewString(),
		Username:     socialUsername(email, displayName),
		Email:        email,
		PasswordHash: hash,
		Roles:        []string{defaultRole},
	}
	if err := e.users.Create(ctx, u); err != nil {
		// Lost a create race with a concurrent callback for the same email.
		if errors.Is(err, users.ErrDuplicate) {
			return e.users.GetByEmail(ctx, email)
		}
		return nil, err
	}
	return u, nil
}

func userInfo(u *users.User) UserInfo {
	return UserInfo{ID: u.ID, Username: u.Username, Email: u.Email}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func socialUsername(email, displayName string) string {
	base := displayName
	if base == "" {
		base = email
		if at := strings.Index(email, "@"); at > 0 {
			base = email[:at]
		}
	}
	var cleaned strings.Builder
	for _, r := range strings.ToLower(base) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			cleaned.WriteRune(r)
		}
	}
	name := cleaned.String()
	if len(name) > 12 {
		name = name[:12]
	}
	if name == "" {
		name = defaultRole
	}
	// Random suffix keeps generated names unique across providers.
	return name + uuid.NewString()[:4]
}
