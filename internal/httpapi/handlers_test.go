package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gatehouse.org/internal/auth"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *auth.MemoryStore
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := auth.NewMemoryStore()
	issuer, err := auth.NewTokenIssuer([]byte("test-access-secret"), []byte("test-refresh-secret"))
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	svc := auth.NewService(store, issuer)

	api := New(svc, ReadyProbe{}, Options{
		Version:        "test",
		RateBurst:      1000,
		RatePerSec:     1000,
		RequestTimeout: 5 * time.Second,
		MaxBodyBytes:   1 << 20,
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		store:   store,
		t:       t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
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
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// register creates an account and returns (accessToken, refreshToken).
func (c *apiClient) register(email, username, password string) (string, string) {
	c.t.Helper()
	resp := c.post("/v1/auth/register", map[string]any{
		"email":    email,
		"username": username,
		"password": password,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("unexpected register status: %d", resp.StatusCode)
	}
	env := decode[map[string]any](c.t, resp)
	return tokensFrom(c.t, env)
}

func tokensFrom(t *testing.T, env map[string]any) (string, string) {
	t.Helper()
	data, ok := env["data"].(map[string]any)
	if !ok {
		t.Fatalf("missing data in envelope: %v", env)
	}
	tokens, ok := data["tokens"].(map[string]any)
	if !ok {
		t.Fatalf("missing tokens in envelope data: %v", data)
	}
	access, _ := tokens["accessToken"].(string)
	refresh, _ := tokens["refreshToken"].(string)
	if access == "" || refresh == "" {
		t.Fatalf("empty token pair: %v", tokens)
	}
	return access, refresh
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestRegisterLoginRefreshFlow(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/register", map[string]any{
		"email":    "flow@example.com",
		"username": "flowuser",
		"password": "correct-horse-9",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	env := decode[map[string]any](t, resp)
	if env["success"] != true {
		t.Fatalf("expected success envelope, got %v", env)
	}
	if env["statusCode"] != float64(http.StatusCreated) {
		t.Fatalf("unexpected statusCode: %v", env["statusCode"])
	}
	if env["path"] != "/v1/auth/register" {
		t.Fatalf("unexpected path: %v", env["path"])
	}
	data := env["data"].(map[string]any)
	user := data["user"].(map[string]any)
	if user["email"] != "flow@example.com" {
		t.Fatalf("unexpected email: %v", user["email"])
	}
	if _, leaked := user["passwordHash"]; leaked {
		t.Fatalf("password hash leaked in response")
	}
	_, refresh := tokensFrom(t, env)

	// login opens a second, distinct session
	resp = api.post("/v1/auth/login", map[string]any{
		"email":    "flow@example.com",
		"password": "correct-horse-9",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	loginAccess, loginRefresh := tokensFrom(t, decode[map[string]any](t, resp))
	if loginRefresh == refresh {
		t.Fatalf("login reused the registration session token")
	}

	// profile with the fresh access token
	resp = api.get("/v1/auth/profile", bearer(loginAccess))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	profileEnv := decode[map[string]any](t, resp)
	profile := profileEnv["data"].(map[string]any)
	if profile["username"] != "flowuser" {
		t.Fatalf("unexpected profile: %v", profile)
	}

	// rotate the login session
	resp = api.post("/v1/auth/refresh", map[string]any{"refreshToken": loginRefresh}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	_, rotated := tokensFrom(t, decode[map[string]any](t, resp))

	// the consumed token is one-time-use
	resp = api.post("/v1/auth/refresh", map[string]any{"refreshToken": loginRefresh}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 on replay, got %d", resp.StatusCode)
	}

	// the rotated token still works once
	resp = api.post("/v1/auth/refresh", map[string]any{"refreshToken": rotated}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for rotated token, got %d", resp.StatusCode)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	api := newTestAPI(t)
	access, refresh := api.register("out@example.com", "outuser", "secret-pass-1")

	resp := api.post("/v1/auth/logout", map[string]any{"refreshToken": refresh}, bearer(access))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	// second logout of the same token still succeeds
	resp = api.post("/v1/auth/logout", map[string]any{"refreshToken": refresh}, bearer(access))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 on repeat, got %d", resp.StatusCode)
	}

	// the session is gone
	resp = api.post("/v1/auth/refresh", map[string]any{"refreshToken": refresh}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestLogoutRequiresAccessToken(t *testing.T) {
	api := newTestAPI(t)
	_, refresh := api.register("bare@example.com", "bareuser", "secret-pass-1")

	// a refresh token alone must not be enough to touch the session
	resp := api.post("/v1/auth/logout", map[string]any{"refreshToken": refresh}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", resp.StatusCode)
	}

	// the session survived the rejected attempt
	resp = api.post("/v1/auth/refresh", map[string]any{"refreshToken": refresh}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected session still valid, got %d", resp.StatusCode)
	}
}

func TestRegisterConflict(t *testing.T) {
	api := newTestAPI(t)
	api.register("dup@example.com", "dupuser", "secret-pass-1")

	resp := api.post("/v1/auth/register", map[string]any{
		"email":    "dup@example.com",
		"username": "otheruser",
		"password": "secret-pass-1",
	}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	env := decode[map[string]any](t, resp)
	if env["success"] != false {
		t.Fatalf("expected failure envelope")
	}
	errBody := env["error"].(map[string]any)
	if errBody["code"] != http.StatusText(http.StatusConflict) {
		t.Fatalf("unexpected error code: %v", errBody["code"])
	}
}

func TestRegisterValidationCollectsAllViolations(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/register", map[string]any{
		"email":    "not-an-email",
		"username": "x",
		"password": "short",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	env := decode[map[string]any](t, resp)
	errBody := env["error"].(map[string]any)
	details := errBody["details"].([]any)
	if len(details) != 3 {
		t.Fatalf("expected 3 violations, got %d: %v", len(details), details)
	}
	for _, d := range details {
		violation := d.(map[string]any)
		if violation["field"] == "password" && violation["rejected"] != "[REDACTED]" {
			t.Fatalf("password value leaked in violation: %v", violation)
		}
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	api := newTestAPI(t)
	api.register("who@example.com", "whouser", "secret-pass-1")

	resp := api.post("/v1/auth/login", map[string]any{
		"email":    "who@example.com",
		"password": "wrong-password",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	// unknown account is indistinguishable from a wrong password
	resp = api.post("/v1/auth/login", map[string]any{
		"email":    "ghost@example.com",
		"password": "whatever-pass",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown account, got %d", resp.StatusCode)
	}
}

func TestProfileRequiresBearerToken(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/auth/profile", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	resp = api.get("/v1/auth/profile", bearer("garbage.token.here"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", resp.StatusCode)
	}
}

func TestChangePasswordRevokesEverySession(t *testing.T) {
	api := newTestAPI(t)
	access, refresh := api.register("rotate@example.com", "rotateuser", "old-password-1")

	resp := api.post("/v1/auth/change-password", map[string]any{
		"currentPassword": "old-password-1",
		"newPassword":     "new-password-2",
	}, bearer(access))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	// the pre-change session is dead
	resp = api.post("/v1/auth/refresh", map[string]any{"refreshToken": refresh}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after password change, got %d", resp.StatusCode)
	}

	// old password no longer logs in, new one does
	resp = api.post("/v1/auth/login", map[string]any{
		"email":    "rotate@example.com",
		"password": "old-password-1",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with old password, got %d", resp.StatusCode)
	}
	resp = api.post("/v1/auth/login", map[string]any{
		"email":    "rotate@example.com",
		"password": "new-password-2",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with new password, got %d", resp.StatusCode)
	}
}

func TestLogoutAllKillsParallelSessions(t *testing.T) {
	api := newTestAPI(t)
	access, refreshA := api.register("multi@example.com", "multiuser", "secret-pass-1")

	resp := api.post("/v1/auth/login", map[string]any{
		"email":    "multi@example.com",
		"password": "secret-pass-1",
	}, nil)
	_, refreshB := tokensFrom(t, decode[map[string]any](t, resp))

	resp = api.post("/v1/auth/logout-all", nil, bearer(access))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	for _, token := range []string{refreshA, refreshB} {
		resp = api.post("/v1/auth/refresh", map[string]any{"refreshToken": token}, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 after logout-all, got %d", resp.StatusCode)
		}
	}
}

func TestStatsEndpointIsAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	access, _ := api.register("plain@example.com", "plainuser", "secret-pass-1")

	resp := api.get("/v1/ops/stats", bearer(access))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for USER role, got %d", resp.StatusCode)
	}

	// seed an admin account directly through the store
	hash, err := auth.HashPassword("admin-pass-1")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	admin := &auth.User{
		Email:        "root@example.com",
		Username:     "rootuser",
		PasswordHash: hash,
		IsActive:     true,
		Role:         auth.RoleAdmin,
	}
	if err := api.store.Users().Create(t.Context(), admin); err != nil {
		t.Fatalf("create admin: %v", err)
	}

	resp = api.post("/v1/auth/login", map[string]any{
		"email":    "root@example.com",
		"password": "admin-pass-1",
	}, nil)
	adminAccess, _ := tokensFrom(t, decode[map[string]any](t, resp))

	resp = api.get("/v1/ops/stats", bearer(adminAccess))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for ADMIN, got %d", resp.StatusCode)
	}
	env := decode[map[string]any](t, resp)
	data := env["data"].(map[string]any)
	if data["verdict"] == "" {
		t.Fatalf("expected health verdict in stats payload")
	}
	if _, ok := data["endpoints"].([]any); !ok {
		t.Fatalf("expected endpoint snapshots, got %v", data["endpoints"])
	}
}

func TestOperationalEndpoints(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	env := decode[map[string]any](t, resp)
	data := env["data"].(map[string]any)
	if data["status"] != "healthy" {
		t.Fatalf("unexpected health status: %v", data["status"])
	}
	if data["breaker"] != "closed" {
		t.Fatalf("unexpected breaker state: %v", data["breaker"])
	}

	resp = api.get("/readyz", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp = api.get("/v1/info", nil)
	env = decode[map[string]any](t, resp)
	if env["data"].(map[string]any)["name"] != "gatehouse-api" {
		t.Fatalf("unexpected info payload: %v", env["data"])
	}
}

func TestUnknownRouteGetsEnvelope(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	env := decode[map[string]any](t, resp)
	if env["success"] != false || env["path"] != "/nope" {
		t.Fatalf("unexpected envelope: %v", env)
	}
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	api := newTestAPI(t)

	req, err := http.NewRequest(http.MethodPost, api.baseURL+"/v1/auth/login", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
