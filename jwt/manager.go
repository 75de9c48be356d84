package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the signature algorithm for both token families.
type SigningMethod string

const (
	// MethodHS256 signs with a shared secret.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 key pair.
	MethodEd25519 SigningMethod = "ed25519"
)

// Config holds the signing material and lifetimes for the codec.
// Access tokens and refresh envelopes are signed with independent keys so
// that one can never be presented in place of the other.
type Config struct {
	SigningMethod SigningMethod
	AccessKey     []byte
	RefreshKey    []byte
	AccessPublic  []byte // ed25519 only
	RefreshPublic []byte // ed25519 only
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration
}

// Manager signs and verifies the two credential families: short-lived access
// tokens carrying subject and roles, and refresh envelopes carrying only the
// subject and a random jti. Neither operation performs I/O.
type Manager struct {
	config Config
}

// AccessClaims is the decoded claim set of an access token.
type AccessClaims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims is the decoded claim set of a refresh envelope. The envelope
// authenticates the owning subject; validity is decided by the session store,
// never by the signature alone.
type RefreshClaims struct {
	jwt.RegisteredClaims
}

// NewManager validates the configuration and returns a codec. A missing or
// undersized key is a construction error so misconfiguration surfaces at
// startup, not at request time.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("jwt: access and refresh TTLs must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: leeway out of range")
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.AccessKey) < 32 || len(cfg.RefreshKey) < 32 {
			return nil, errors.New("jwt: hs256 keys must be at least 32 bytes")
		}
	case MethodEd25519:
		for _, key := range [][]byte{cfg.AccessKey, cfg.RefreshKey} {
			if len(key) != ed25519.PrivateKeySize {
				return nil, errors.New("jwt: invalid ed25519 private key")
			}
		}
		for _, key := range [][]byte{cfg.AccessPublic, cfg.RefreshPublic} {
			if len(key) != ed25519.PublicKeySize {
				return nil, errors.New("jwt: invalid ed25519 public key")
			}
		}
	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", cfg.SigningMethod)
	}

	return &Manager{config: cfg}, nil
}

// AccessTTL reports the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL reports the configured refresh-envelope lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

// CreateAccess mints a signed access token for the subject with its role
// list and an expiry of now+AccessTTL.
func (m *Manager) CreateAccess(subjectID string, roles []string) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTTL)),
		},
	}

	token := jwt.NewWithClaims(m.method(), claims)
	key, err := m.signKey(m.config.AccessKey)
	if err != nil {
		return "", err
	}
	return token.SignedString(key)
}

// ParseAccess verifies signature and expiry and returns the decoded claims.
// It never consults a store; access tokens are self-contained.
func (m *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(tokenStr, claims, m.config.AccessKey, m.config.AccessPublic); err != nil {
		return nil, err
	}
	return claims, nil
}

// CreateRefresh mints a refresh envelope for the subject: the subject id, a
// random jti, and an expiry of now+RefreshTTL, signed under the refresh key.
// The full encoded string is the value recorded by the session store.
func (m *Manager) CreateRefresh(subjectID string) (string, error) {
	now := time.Now()
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			ID:        uuid.NewString(),
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.RefreshTTL)),
		},
	}

	token := jwt.NewWithClaims(m.method(), claims)
	key, err := m.signKey(m.config.RefreshKey)
	if err != nil {
		return "", err
	}
	return token.SignedString(key)
}

// ParseRefresh verifies a refresh envelope and returns its claims. A valid
// envelope proves which subject the value belongs to, nothing more.
func (m *Manager) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(tokenStr, claims, m.config.RefreshKey, m.config.RefreshPublic); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("jwt: refresh envelope missing subject")
	}
	return claims, nil
}

func (m *Manager) parse(tokenStr string, claims jwt.Claims, key, public []byte) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return m.verifyKey(key, public)
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return jwt.ErrTokenInvalidClaims
	}
	return nil
}

func (m *Manager) method() jwt.SigningMethod {
	if m.config.SigningMethod == MethodEd25519 {
		return jwt.SigningMethodEdDSA
	}
	return jwt.SigningMethodHS256
}

func (m *Manager) signKey(key []byte) (interface{}, error) {
	if m.config.SigningMethod == MethodEd25519 {
		return ed25519.PrivateKey(key), nil
	}
	return key, nil
}

func (m *Manager) verifyKey(key, public []byte) (interface{}, error) {
	if m.config.SigningMethod == MethodEd25519 {
		return ed25519.PublicKey(public), nil
	}
	return key, nil
}
