package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"motionhub/cmd/identity"
	"motionhub/cmd/internal/auth/session"
	"motionhub/cmd/internal/sensors"
	"motionhub/cmd/security/password"
	"motionhub/cmd/security/token"
)

const goodPassword = "garage-sensor-lamp"

type apiEnv struct {
	t        *testing.T
	srv      *httptest.Server
	h        *Handler
	accounts *identity.MemoryStore
	devices  *sensors.MemoryStore
	hasher   token.Hasher
}

func cheapPasswords() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func newAPIEnv(t *testing.T, cfg Config) *apiEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	scfg := session.DefaultConfig()
	scfg.JWTSecret = strings.Repeat("k", session.MinJWTSecretBytes)
	jwt, err := session.NewJWTManager(scfg)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}

	accounts := identity.NewMemoryStore()
	devices := sensors.NewMemoryStore()
	hasher := token.NewHasher([]byte(strings.Repeat("h", 32)))
	resolver := session.NewResolver(accounts, devices, hasher, jwt)
	auth := session.NewAuthenticator(resolver, session.NewDeviceTokens(devices, accounts, hasher, scfg.DeviceTokenBytes), nil, log)

	h, err := NewHandler(log, cfg, Deps{
		Accounts:      accounts,
		Passwords:     cheapPasswords(),
		JWT:           jwt,
		Hasher:        hasher,
		APITokenBytes: scfg.APITokenBytes,
		Auth:          auth,
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	root := chi.NewRouter()
	root.Mount("/api", h.Routes())
	srv := httptest.NewServer(root)
	t.Cleanup(srv.Close)
	return &apiEnv{t: t, srv: srv, h: h, accounts: accounts, devices: devices, hasher: hasher}
}

func (e *apiEnv) call(method, path, auth string, body any, out any) int {
	e.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		e.t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			e.t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (e *apiEnv) register(email string) loginResponse {
	e.t.Helper()
	var out loginResponse
	code := e.call(http.MethodPost, "/api/auth/register/", "", map[string]string{
		"email": email, "password": goodPassword, "first_name": "Ada", "last_name": "Byron",
	}, &out)
	if code != http.StatusCreated {
		e.t.Fatalf("register %s: status %d", email, code)
	}
	return out
}

func TestRegister_IssuesUsableTokens(t *testing.T) {
	env := newAPIEnv(t, DefaultConfig())
	out := env.register("  Ada@Example.com ")

	if out.User.Email != "ada@example.com" || out.User.EmailVerified {
		t.Fatalf("unexpected user: %+v", out.User)
	}
	if out.Tokens.APIToken == "" || out.Tokens.AccessToken == "" || out.Tokens.AccessExpiresAt == nil {
		t.Fatalf("expected both tokens, got %+v", out.Tokens)
	}

	for _, auth := range []string{"Token " + out.Tokens.APIToken, "Bearer " + out.Tokens.AccessToken} {
		var me meResponse
		if code := env.call(http.MethodGet, "/api/me", auth, nil, &me); code != http.StatusOK {
			t.Fatalf("GET /me with %q: status %d", auth[:6], code)
		}
		if me.User.ID != out.User.ID {
			t.Fatalf("me returned %s, want %s", me.User.ID, out.User.ID)
		}
	}
}

func TestRegister_Validation(t *testing.T) {
	env := newAPIEnv(t, DefaultConfig())
	env.register("taken@example.com")

	cases := []struct {
		name string
		body map[string]string
		code int
		err  string
	}{
		{"bad email", map[string]string{"email": "nope", "password": goodPassword, "first_name": "A", "last_name": "B"}, http.StatusBadRequest, "invalid_request"},
		{"missing names", map[string]string{"email": "x@example.com", "password": goodPassword}, http.StatusBadRequest, "invalid_request"},
		{"common password", map[string]string{"email": "x@example.com", "password": "password123", "first_name": "A", "last_name": "B"}, http.StatusBadRequest, "weak_password"},
		{"similar password", map[string]string{"email": "sunflower@example.com", "password": "sunflower", "first_name": "A", "last_name": "B"}, http.StatusBadRequest, "weak_password"},
		{"duplicate email", map[string]string{"email": "TAKEN@example.com", "password": goodPassword, "first_name": "A", "last_name": "B"}, http.StatusConflict, "email_taken"},
	}
	for _, tc := range cases {
		var out errorResponse
		code := env.call(http.MethodPost, "/api/auth/register", "", tc.body, &out)
		if code != tc.code || out.Error.Code != tc.err {
			t.Fatalf("%s: got %d/%s, want %d/%s", tc.name, code, out.Error.Code, tc.code, tc.err)
		}
	}
}

func TestLogin_RotatesAPIToken(t *testing.T) {
	env := newAPIEnv(t, DefaultConfig())
	reg := env.register("ada@example.com")

	var out loginResponse
	code := env.call(http.MethodPost, "/api/auth/login", "", loginRequest{Email: "ADA@example.com", Password: goodPassword}, &out)
	if code != http.StatusOK {
		t.Fatalf("login: status %d", code)
	}
	if out.Tokens.APIToken == reg.Tokens.APIToken {
		t.Fatalf("login must rotate the API token")
	}
	if code := env.call(http.MethodGet, "/api/me", "Token "+reg.Tokens.APIToken, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("old API token: status %d, want 401", code)
	}
	if code := env.call(http.MethodGet, "/api/me", "Token "+out.Tokens.APIToken, nil, nil); code != http.StatusOK {
		t.Fatalf("new API token: status %d", code)
	}
}

func TestLogin_Failures(t *testing.T) {
	env := newAPIEnv(t, DefaultConfig())
	reg := env.register("ada@example.com")

	var out errorResponse
	if code := env.call(http.MethodPost, "/api/auth/login", "", loginRequest{Email: "ada@example.com", Password: "wrong-password"}, &out); code != http.StatusUnauthorized || out.Error.Code != "invalid_credentials" {
		t.Fatalf("wrong password: %d/%s", code, out.Error.Code)
	}
	if code := env.call(http.MethodPost, "/api/auth/login", "", loginRequest{Email: "ghost@example.com", Password: goodPassword}, &out); code != http.StatusUnauthorized {
		t.Fatalf("unknown email: %d", code)
	}
	if code := env.call(http.MethodPost, "/api/auth/login", "", map[string]any{"email": "ada@example.com"}, &out); code != http.StatusBadRequest {
		t.Fatalf("missing password: %d", code)
	}

	if err := env.accounts.SetActive(context.Background(), reg.User.ID, false, time.Now()); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if code := env.call(http.MethodPost, "/api/auth/login", "", loginRequest{Email: "ada@example.com", Password: goodPassword}, &out); code != http.StatusForbidden || out.Error.Code != session.ReasonAccountInactive {
		t.Fatalf("inactive: %d/%s", code, out.Error.Code)
	}
}

func TestLogin_EmailLockout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LoginIPMax = 1000
	env := newAPIEnv(t, cfg)
	env.register("ada@example.com")

	for i := 0; i < cfg.LockoutShortThreshold; i++ {
		if code := env.call(http.MethodPost, "/api/auth/login", "", loginRequest{Email: "ada@example.com", Password: "wrong-password"}, nil); code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status %d", i, code)
		}
	}

	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/api/auth/login", strings.NewReader(`{"email":"ada@example.com","password":"`+goodPassword+`"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected lockout even with the right password, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}

	// Another account is unaffected.
	env.register("bob@example.com")
	if code := env.call(http.MethodPost, "/api/auth/login", "", loginRequest{Email: "bob@example.com", Password: goodPassword}, nil); code != http.StatusOK {
		t.Fatalf("other account: status %d", code)
	}
}

func TestLogin_IPThrottle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LoginIPMax = 3
	env := newAPIEnv(t, cfg)

	for i := 0; i < 3; i++ {
		env.call(http.MethodPost, "/api/auth/login", "", loginRequest{Email: "user" + string(rune('a'+i)) + "@example.com", Password: "x"}, nil)
	}
	if code := env.call(http.MethodPost, "/api/auth/login", "", loginRequest{Email: "fresh@example.com", Password: "x"}, nil); code != http.StatusTooManyRequests {
		t.Fatalf("expected IP throttle, got %d", code)
	}
}

func TestMe_UpdateProfile(t *testing.T) {
	env := newAPIEnv(t, DefaultConfig())
	reg := env.register("ada@example.com")
	auth := "Token " + reg.Tokens.APIToken

	var me meResponse
	code := env.call(http.MethodPatch, "/api/me/", auth, map[string]string{"first_name": " Grace ", "theme_preference": "dark"}, &me)
	if code != http.StatusOK {
		t.Fatalf("PATCH /me: status %d", code)
	}
	if me.User.FirstName != "Grace" || me.User.LastName != "Byron" || me.User.ThemePreference != "dark" {
		t.Fatalf("unexpected profile: %+v", me.User)
	}

	var out errorResponse
	if code := env.call(http.MethodPatch, "/api/me", auth, map[string]string{"theme_preference": "neon"}, &out); code != http.StatusBadRequest {
		t.Fatalf("bad theme: status %d", code)
	}
	if code := env.call(http.MethodPatch, "/api/me", auth, map[string]string{"email": "new@example.com"}, &out); code != http.StatusBadRequest || out.Error.Code != "invalid_json" {
		t.Fatalf("email is read-only: %d/%s", code, out.Error.Code)
	}
	if code := env.call(http.MethodGet, "/api/me", "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("anonymous /me: status %d", code)
	}
}

func TestChangePassword_RotatesToken(t *testing.T) {
	env := newAPIEnv(t, DefaultConfig())
	reg := env.register("ada@example.com")
	auth := "Token " + reg.Tokens.APIToken

	var out errorResponse
	if code := env.call(http.MethodPost, "/api/me/password", auth, passwordChangeRequest{CurrentPassword: "nope", NewPassword: "another-long-phrase"}, &out); code != http.StatusBadRequest || out.Error.Code != "invalid_password" {
		t.Fatalf("wrong current: %d/%s", code, out.Error.Code)
	}

	var res passwordChangeResponse
	if code := env.call(http.MethodPost, "/api/me/password", auth, passwordChangeRequest{CurrentPassword: goodPassword, NewPassword: "another-long-phrase"}, &res); code != http.StatusOK {
		t.Fatalf("change: status %d", code)
	}
	if res.APIToken == "" || res.APIToken == reg.Tokens.APIToken {
		t.Fatalf("expected a fresh API token")
	}
	if code := env.call(http.MethodGet, "/api/me", auth, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("old token after password change: status %d", code)
	}
	if code := env.call(http.MethodPost, "/api/auth/login", "", loginRequest{Email: "ada@example.com", Password: "another-long-phrase"}, nil); code != http.StatusOK {
		t.Fatalf("login with new password: status %d", code)
	}
}

func TestLogout_RevokesAPIToken(t *testing.T) {
	env := newAPIEnv(t, DefaultConfig())
	reg := env.register("ada@example.com")
	auth := "Token " + reg.Tokens.APIToken

	if code := env.call(http.MethodPost, "/api/auth/logout", auth, nil, nil); code != http.StatusNoContent {
		t.Fatalf("logout: status %d", code)
	}
	if code := env.call(http.MethodGet, "/api/me", auth, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("after logout: status %d", code)
	}
}

func TestAccountRoutes_RejectDeviceTokens(t *testing.T) {
	env := newAPIEnv(t, DefaultConfig())
	reg := env.register("ada@example.com")
	ctx := context.Background()

	dev, err := env.devices.CreateDevice(ctx, sensors.NewDevice{DeviceID: "ESP32_001", OwnerID: reg.User.ID, IsActive: true})
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	if err := env.devices.SetDeviceToken(ctx, dev.ID, env.hasher.Hash("firmware-token"), time.Now()); err != nil {
		t.Fatalf("SetDeviceToken: %v", err)
	}

	device := "Device-Token firmware-token"
	cases := []struct {
		method, path string
		body         any
	}{
		{http.MethodGet, "/api/me", nil},
		{http.MethodPatch, "/api/me", map[string]string{"first_name": "Mallory"}},
		{http.MethodPost, "/api/me/password", passwordChangeRequest{CurrentPassword: goodPassword, NewPassword: "another-long-phrase"}},
		{http.MethodPost, "/api/auth/logout", nil},
	}
	for _, tc := range cases {
		if code := env.call(tc.method, tc.path, device, tc.body, nil); code != http.StatusForbidden {
			t.Fatalf("%s %s with device token: status %d, want 403", tc.method, tc.path, code)
		}
	}

	// The owner's API token survives the logout attempt.
	if code := env.call(http.MethodGet, "/api/me", "Token "+reg.Tokens.APIToken, nil, nil); code != http.StatusOK {
		t.Fatalf("owner token after device logout attempt: status %d", code)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.5:4411"
	r.Header.Set("X-Forwarded-For", "garbage, 203.0.113.9, 10.0.0.1")

	if got := clientIP(r, false); got.String() != "10.0.0.5" {
		t.Fatalf("untrusted proxy: got %v", got)
	}
	if got := clientIP(r, true); got.String() != "203.0.113.9" {
		t.Fatalf("trusted proxy: got %v", got)
	}
}
