// Package httpapi exposes the token lifecycle over HTTP. It is a thin JSON
// layer: every business rule lives in the engine, every response here is a
// straight mapping of the engine's errors onto status codes.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openfeedhq/authcore"
)

// DelegateVerifier resolves an OAuth provider callback into a verified
// identity. Implementations talk to the provider; the API trusts whatever
// they return.
type DelegateVerifier interface {
	// Verify exchanges the provider callback request for the external
	// identity's email and display name.
	Verify(ctx context.Context, r *http.Request) (email, displayName string, err error)
}

// ReadyProbe reports whether a backing store can serve traffic.
type ReadyProbe func(ctx context.Context) error

// API is the HTTP layer over an Engine.
type API struct {
	mux       *http.ServeMux
	engine    *authcore.Engine
	logger    *slog.Logger
	delegates map[string]DelegateVerifier
	probes    []ReadyProbe
}

// Options configures optional API wiring.
type Options struct {
	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// Delegates maps provider names ("google", "github") to verifiers for
	// GET /v1/auth/{provider}/callback.
	Delegates map[string]DelegateVerifier
	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Probes are checked by GET /readyz.
	Probes []ReadyProbe
}

// New builds the API and registers its routes.
func New(engine *authcore.Engine, opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &API{
		mux:       http.NewServeMux(),
		engine:    engine,
		logger:    logger,
		delegates: opts.Delegates,
		probes:    opts.Probes,
	}

	a.mux.HandleFunc("POST /v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("POST /v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("POST /v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("GET /v1/auth/session", a.handleSession)
	a.mux.HandleFunc("GET /v1/auth/{provider}/callback", a.handleDelegateCallback)

	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReadyz)
	if opts.Gatherer != nil {
		a.mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	return a
}

// Handler returns the routed handler wrapped with request logging.
func (a *API) Handler() http.Handler {
	return logging(a.logger, a.mux)
}

type credentialsRequest struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := a.engine.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse(sess))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := a.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(sess))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pair, err := a.engine.Rotate(r.Context(), req.RefreshToken)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	// Logout is idempotent: a missing or malformed body still logs out.
	_ = decodeJSON(w, r, &req)

	if err := a.engine.RevokeOne(r.Context(), req.RefreshToken); err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleSession reports who the bearer token belongs to. An absent or
// invalid token is answered with a null user, not an error, so clients can
// probe their login state cheaply.
func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"user": nil})
		return
	}
	claims, err := a.engine.ValidateAccess(token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"user": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":    claims.Subject,
			"roles": claims.Roles,
		},
		"expires_at": claims.ExpiresAt,
	})
}

func (a *API) handleDelegateCallback(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	verifier, ok := a.delegates[provider]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}

	email, displayName, err := verifier.Verify(r.Context(), r)
	if err != nil {
		a.logger.Warn("delegate verification failed", "provider", provider, "error", err)
		writeError(w, http.StatusBadRequest, "delegate verification failed")
		return
	}

	sess, err := a.engine.DelegateLogin(r.Context(), email, displayName)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}

	// Browser flows land back on the frontend with tokens in the query;
	// API clients get the usual JSON shape.
	if redirect := r.URL.Query().Get("redirect_uri"); redirect != "" {
		u, err := url.Parse(redirect)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			writeError(w, http.StatusBadRequest, "invalid redirect_uri")
			return
		}
		q := u.Query()
		q.Set("access_token", sess.Tokens.Access)
		q.Set("refresh_token", sess.Tokens.Refresh)
		u.RawQuery = q.Encode()
		http.Redirect(w, r, u.String(), http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(sess))
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	for _, probe := range a.probes {
		if err := probe(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func sessionResponse(sess authcore.Session) map[string]any {
	return map[string]any{
		"user":          sess.User,
		"access_token":  sess.Tokens.Access,
		"refresh_token": sess.Tokens.Refresh,
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}
