package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/openfeedhq/authcore"
	"github.com/openfeedhq/authcore/session"
	"github.com/openfeedhq/authcore/users"
)

type memoryUsers struct {
	mu      sync.Mutex
	byID    map[string]*users.User
	byEmail map[string]*users.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{
		byID:    make(map[string]*users.User),
		byEmail: make(map[string]*users.User),
	}
}

func (m *memoryUsers) Create(_ context.Context, u *users.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return users.ErrDuplicate
	}
	cp := *u
	m.byID[u.ID] = &cp
	m.byEmail[u.Email] = &cp
	return nil
}

func (m *memoryUsers) GetByID(_ context.Context, id string) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, users.ErrNotFound
}

func (m *memoryUsers) GetByEmail(_ context.Context, email string) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byEmail[email]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, users.ErrNotFound
}

type fakeDelegate struct {
	email string
	name  string
	err   error
}

func (d fakeDelegate) Verify(context.Context, *http.Request) (string, string, error) {
	return d.email, d.name, d.err
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T, opts Options) *apiClient {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := authcore.DefaultConfig()
	cfg.JWT.AccessSecret = []byte("test-access-secret-0123456789abcdef")
	cfg.JWT.RefreshSecret = []byte("test-refresh-secret-0123456789abcdef")

	engine, err := authcore.New().
		WithConfig(cfg).
		WithSessionStore(session.NewRedisStore(rdb, "t:")).
		WithUserProvider(newMemoryUsers()).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	srv := httptest.NewServer(New(engine, opts).Handler())
	t.Cleanup(srv.Close)

	client := srv.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &apiClient{baseURL: srv.URL, client: client, t: t}
}

func (c *apiClient) post(path string, body any) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	resp, err := c.client.Post(c.baseURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (c *apiClient) get(path string, headers map[string]string) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func (c *apiClient) register(email string) map[string]any {
	c.t.Helper()
	resp := c.post("/v1/auth/register", map[string]string{
		"username": "tester",
		"email":    email,
		"password": "a-long-password",
	})
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("register status = %d", resp.StatusCode)
	}
	return decodeBody(c.t, resp)
}

func TestRegisterEndpoint(t *testing.T) {
	c := newTestAPI(t, Options{})

	body := c.register("alice@example.com")
	if tok, ok := body["access_token"].(string); !ok || tok == "" {
		t.Fatalf("missing access token in %v", body)
	}
	if tok, ok := body["refresh_token"].(string); !ok || tok == "" {
		t.Fatalf("missing refresh token in %v", body)
	}
	user, ok := body["user"].(map[string]any)
	if !ok || user["email"] != "alice@example.com" {
		t.Fatalf("unexpected user payload: %v", body["user"])
	}

	resp := c.post("/v1/auth/register", map[string]string{
		"username": "tester2",
		"email":    "alice@example.com",
		"password": "a-long-password",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate register status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/v1/auth/register", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty register status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLoginEndpoint(t *testing.T) {
	c := newTestAPI(t, Options{})
	c.register("bob@example.com")

	resp := c.post("/v1/auth/login", map[string]string{
		"email":    "bob@example.com",
		"password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["error"] != "invalid credentials" {
		t.Fatalf("error body = %v", body)
	}

	resp = c.post("/v1/auth/login", map[string]string{
		"email":    "bob@example.com",
		"password": "a-long-password",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["refresh_token"] == "" {
		t.Fatalf("missing refresh token: %v", body)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	c := newTestAPI(t, Options{})
	registered := c.register("carol@example.com")
	r1 := registered["refresh_token"].(string)

	resp := c.post("/v1/auth/refresh", map[string]string{"refresh_token": r1})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d, want 200", resp.StatusCode)
	}
	rotated := decodeBody(t, resp)
	if rotated["refresh_token"] == r1 {
		t.Fatal("refresh returned the presented value")
	}

	// Replaying the dead value reports reuse and kills the successor.
	resp = c.post("/v1/auth/refresh", map[string]string{"refresh_token": r1})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replay status = %d, want 401", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["error"] != "reuse detected" {
		t.Fatalf("replay body = %v", body)
	}

	resp = c.post("/v1/auth/refresh", map[string]string{
		"refresh_token": rotated["refresh_token"].(string),
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("successor after cascade status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/v1/auth/refresh", map[string]string{"refresh_token": "garbage"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage status = %d, want 401", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["error"] != "invalid refresh token" {
		t.Fatalf("garbage body = %v", body)
	}
}

func TestLogoutEndpoint(t *testing.T) {
	c := newTestAPI(t, Options{})
	registered := c.register("dave@example.com")
	refresh := registered["refresh_token"].(string)

	for i := 0; i < 2; i++ {
		resp := c.post("/v1/auth/logout", map[string]string{"refresh_token": refresh})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("logout %d status = %d, want 200", i, resp.StatusCode)
		}
		if body := decodeBody(t, resp); body["ok"] != true {
			t.Fatalf("logout body = %v", body)
		}
	}

	// Even an empty body is a successful logout.
	resp := c.post("/v1/auth/logout", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("empty logout status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	// The revoked value is rejected on refresh.
	resp = c.post("/v1/auth/refresh", map[string]string{"refresh_token": refresh})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after logout status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSessionEndpoint(t *testing.T) {
	c := newTestAPI(t, Options{})
	registered := c.register("erin@example.com")
	access := registered["access_token"].(string)

	resp := c.get("/v1/auth/session", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("anonymous session status = %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["user"] != nil {
		t.Fatalf("anonymous session user = %v, want null", body["user"])
	}

	resp = c.get("/v1/auth/session", map[string]string{"Authorization": "Bearer " + access})
	body := decodeBody(t, resp)
	user, ok := body["user"].(map[string]any)
	if !ok || user["id"] == "" {
		t.Fatalf("session user = %v", body["user"])
	}

	resp = c.get("/v1/auth/session", map[string]string{"Authorization": "Bearer " + access + "x"})
	if body := decodeBody(t, resp); body["user"] != nil {
		t.Fatalf("tampered session user = %v, want null", body["user"])
	}
}

func TestDelegateCallback(t *testing.T) {
	c := newTestAPI(t, Options{
		Delegates: map[string]DelegateVerifier{
			"google": fakeDelegate{email: "frank@example.com", name: "Frank"},
			"broken": fakeDelegate{err: errors.New("provider said no")},
		},
	})

	resp := c.get("/v1/auth/google/callback", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("callback status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["access_token"] == "" || body["refresh_token"] == "" {
		t.Fatalf("missing tokens: %v", body)
	}

	// Browser flow: tokens travel in the redirect query.
	resp = c.get("/v1/auth/google/callback?redirect_uri="+url.QueryEscape("http://localhost:3000/oauth"), nil)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("redirect status = %d, want 302", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	resp.Body.Close()
	if loc.Host != "localhost:3000" || loc.Query().Get("refresh_token") == "" {
		t.Fatalf("unexpected redirect target: %s", loc)
	}

	resp = c.get("/v1/auth/broken/callback", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("broken provider status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/v1/auth/unknown/callback", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown provider status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newTestAPI(t, Options{
		Gatherer: reg,
		Probes: []ReadyProbe{
			func(context.Context) error { return nil },
		},
	})

	resp := c.get("/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/readyz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if strings.Contains(string(raw), "<html") {
		t.Fatal("metrics endpoint did not return exposition text")
	}
}

func TestReadyzFailingProbe(t *testing.T) {
	c := newTestAPI(t, Options{
		Probes: []ReadyProbe{
			func(context.Context) error { return errors.New("redis down") },
		},
	})

	resp := c.get("/readyz", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d, want 503", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["status"] != "not_ready" {
		t.Fatalf("readyz body = %v", body)
	}
}
