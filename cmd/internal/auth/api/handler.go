package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"motionhub/cmd/identity"
	"motionhub/cmd/internal/auth/session"
	"motionhub/cmd/security/password"
	"motionhub/cmd/security/token"
)

// Deps are the services the accounts API is built on.
type Deps struct {
	Accounts  identity.Store
	Passwords password.Config
	// JWT may be nil; login then issues only the opaque API token.
	JWT           *session.JWTManager
	Hasher        token.Hasher
	APITokenBytes int
	Auth          session.CredentialAuthenticator
}

// Handler serves account registration, login and profile endpoints.
type Handler struct {
	log  *slog.Logger
	cfg  Config
	deps Deps

	ipFailures    *failureLog
	emailFailures *failureLog

	dummyHash string
	nowFunc   func() time.Time
}

// NewHandler constructs an accounts Handler.
func NewHandler(log *slog.Logger, cfg Config, deps Deps) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if deps.Accounts == nil {
		return nil, errors.New("authapi: nil account store")
	}
	if deps.Auth == nil {
		return nil, errors.New("authapi: nil authenticator")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	h := &Handler{
		log:           log,
		cfg:           cfg,
		deps:          deps,
		ipFailures:    newFailureLog(cfg.LoginIPWindow),
		emailFailures: newFailureLog(cfg.lockoutHorizon()),
		nowFunc:       func() time.Time { return time.Now().UTC() },
	}

	// Dummy hash for timing-resistant login checks.
	if hash, err := deps.Passwords.Hash("dummy-password-for-timing-only"); err == nil {
		h.dummyHash = hash
	}
	return h, nil
}

// Routes returns the router to mount under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)
	h.Register(r)
	return r
}

// Register adds the account routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(session.Middleware(h.deps.Auth, true, h.log, session.AccountKinds...))

		r.Post("/auth/logout", h.handleLogout)
		r.Get("/me", h.handleMe)
		r.Patch("/me", h.handleUpdateMe)
		r.Post("/me/password", h.handleChangePassword)
	})
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	email := identity.NormalizeEmail(req.Email)
	if !identity.ValidEmail(email) {
		writeError(w, http.StatusBadRequest, "invalid_request", "a valid email is required")
		return
	}
	if strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "first_name and last_name are required")
		return
	}

	hash, err := h.deps.Passwords.Hash(req.Password, email, req.FirstName, req.LastName)
	if err != nil {
		h.passwordError(w, "auth.register.hash.fail", err)
		return
	}

	ctx := r.Context()
	now := h.nowFunc()
	acc, err := h.deps.Accounts.CreateAccount(ctx, identity.CreateAccountInput{
		Email:        email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: hash,
		Now:          now,
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "email_taken", "a user is already registered with this email address")
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid account details")
		default:
			h.log.Error("auth.register.fail", "err", err)
			writeInternal(w)
		}
		return
	}

	tokens, err := h.issueTokens(ctx, acc.ID, now)
	if err != nil {
		h.log.Error("auth.register.issue.fail", "account_id", acc.ID, "err", err)
		writeInternal(w)
		return
	}
	h.log.Info("auth.register", "account_id", acc.ID)
	writeJSON(w, http.StatusCreated, loginResponse{User: toUserResponse(acc), Tokens: tokens})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	email := identity.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	now := h.nowFunc()
	ip := clientIP(r, h.cfg.TrustProxy)

	// Throttle before the store lookup and the password hash.
	if blocked, retryAfter := h.checkLoginIPThrottle(ip, now); blocked {
		h.log.Warn("auth.login.rate_limited", "scope", "ip", "retry_after_s", int64(retryAfter.Seconds()))
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter := h.checkLoginEmailLockout(email, now); blocked {
		h.log.Warn("auth.login.rate_limited", "scope", "email", "retry_after_s", int64(retryAfter.Seconds()))
		writeRateLimited(w, retryAfter)
		return
	}

	acc, err := h.deps.Accounts.AccountByEmail(ctx, email)
	if err != nil {
		if !identity.IsNotFound(err) && !identity.IsInvalidInput(err) {
			h.log.Error("auth.login.lookup.fail", "err", err)
			writeInternal(w)
			return
		}
		// Timing resistance: perform a dummy verify when the account is missing.
		if h.dummyHash != "" {
			_, _ = h.deps.Passwords.Verify(h.dummyHash, req.Password)
		}
		h.recordLoginFailure(ip, email, now)
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	ok, err := h.deps.Passwords.Verify(acc.PasswordHash, req.Password)
	if err != nil || !ok {
		h.recordLoginFailure(ip, email, now)
		h.log.Info("auth.login.failed", "account_id", acc.ID)
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}
	if !acc.IsActive {
		writeError(w, http.StatusForbidden, session.ReasonAccountInactive, "account is disabled")
		return
	}
	h.emailFailures.reset(email)

	if h.deps.Passwords.NeedsRehash(acc.PasswordHash) {
		h.rehash(ctx, acc, req.Password, now)
	}

	tokens, err := h.issueTokens(ctx, acc.ID, now)
	if err != nil {
		h.log.Error("auth.login.issue.fail", "account_id", acc.ID, "err", err)
		writeInternal(w)
		return
	}
	h.log.Info("auth.login.success", "account_id", acc.ID)
	writeJSON(w, http.StatusOK, loginResponse{User: toUserResponse(acc), Tokens: tokens})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, _ := session.FromContext(r.Context())
	if err := h.deps.Accounts.RevokeAPIToken(r.Context(), id.Account.ID); err != nil {
		h.log.Error("auth.logout.fail", "account_id", id.Account.ID, "err", err)
		writeInternal(w)
		return
	}
	h.log.Info("auth.logout", "account_id", id.Account.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := session.FromContext(r.Context())
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(id.Account)})
}

func (h *Handler) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	id, _ := session.FromContext(r.Context())

	var req profileRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	acc, err := h.deps.Accounts.UpdateProfile(r.Context(), id.Account.ID, identity.ProfilePatch{
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		ThemePreference: req.ThemePreference,
	}, h.nowFunc())
	if err != nil {
		var opErr identity.OpError
		switch {
		case errors.As(err, &opErr) && identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", opErr.Msg)
		case identity.IsNotFound(err):
			writeError(w, http.StatusUnauthorized, "not_found", "account not found")
		default:
			h.log.Error("auth.me.update.fail", "account_id", id.Account.ID, "err", err)
			writeInternal(w)
		}
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(acc)})
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	id, _ := session.FromContext(r.Context())
	acc := id.Account

	var req passwordChangeRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	ok, err := h.deps.Passwords.Verify(acc.PasswordHash, req.CurrentPassword)
	if err != nil || !ok {
		writeError(w, http.StatusBadRequest, "invalid_password", "current password is incorrect")
		return
	}
	hash, err := h.deps.Passwords.Hash(req.NewPassword, acc.Email, acc.FirstName, acc.LastName)
	if err != nil {
		h.passwordError(w, "auth.password.hash.fail", err)
		return
	}

	ctx := r.Context()
	now := h.nowFunc()
	if err := h.deps.Accounts.SetPasswordHash(ctx, acc.ID, hash, now); err != nil {
		h.log.Error("auth.password.store.fail", "account_id", acc.ID, "err", err)
		writeInternal(w)
		return
	}
	apiToken, err := h.rotateAPIToken(ctx, acc.ID, now)
	if err != nil {
		h.log.Error("auth.password.rotate.fail", "account_id", acc.ID, "err", err)
		writeInternal(w)
		return
	}
	h.log.Info("auth.password.changed", "account_id", acc.ID)
	writeJSON(w, http.StatusOK, passwordChangeResponse{APIToken: apiToken})
}

// ---- helpers ----

// issueTokens rotates the account's API token and, when configured, signs an access token.
func (h *Handler) issueTokens(ctx context.Context, accountID string, now time.Time) (tokensResponse, error) {
	apiToken, err := h.rotateAPIToken(ctx, accountID, now)
	if err != nil {
		return tokensResponse{}, err
	}
	out := tokensResponse{APIToken: apiToken}
	if h.deps.JWT != nil {
		access, exp, err := h.deps.JWT.Issue(accountID, now)
		if err != nil {
			return tokensResponse{}, err
		}
		out.AccessToken = access
		out.AccessExpiresAt = &exp
	}
	return out, nil
}

func (h *Handler) rotateAPIToken(ctx context.Context, accountID string, now time.Time) (string, error) {
	tok, err := token.New(h.deps.APITokenBytes)
	if err != nil {
		return "", err
	}
	if err := h.deps.Accounts.SetAPIToken(ctx, accountID, h.deps.Hasher.Hash(tok), now); err != nil {
		return "", err
	}
	return tok, nil
}

func (h *Handler) rehash(ctx context.Context, acc identity.Account, pw string, now time.Time) {
	hash, err := h.deps.Passwords.Hash(pw)
	if err == nil {
		err = h.deps.Accounts.SetPasswordHash(ctx, acc.ID, hash, now)
	}
	if err != nil {
		h.log.Warn("auth.login.rehash.fail", "account_id", acc.ID, "err", err)
	}
}

func (h *Handler) passwordError(w http.ResponseWriter, event string, err error) {
	switch {
	case errors.Is(err, password.ErrPasswordTooShort),
		errors.Is(err, password.ErrPasswordTooLong),
		errors.Is(err, password.ErrPasswordCommon),
		errors.Is(err, password.ErrPasswordNumeric),
		errors.Is(err, password.ErrPasswordSimilar):
		writeError(w, http.StatusBadRequest, "weak_password", err.Error())
	default:
		h.log.Error(event, "err", err)
		writeInternal(w)
	}
}
