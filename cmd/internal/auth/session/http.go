package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
)

// Credential sources accepted in the Authorization header. All resolve through the same Resolver;
// the scheme only documents intent.
var authSchemes = []string{"Bearer", "Token", "Device-Token"}

// CredentialFromHeader extracts the credential from an Authorization header value. An empty header
// yields "" and no error.
func CredentialFromHeader(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	scheme, cred, ok := strings.Cut(raw, " ")
	if !ok {
		return "", ErrMalformedHeader
	}
	known := false
	for _, s := range authSchemes {
		if strings.EqualFold(scheme, s) {
			known = true
			break
		}
	}
	cred = strings.TrimSpace(cred)
	if !known || cred == "" || strings.ContainsAny(cred, " \t") {
		return "", ErrMalformedHeader
	}
	return cred, nil
}

// CredentialAuthenticator is what transports need from authentication.
type CredentialAuthenticator interface {
	Authenticate(ctx context.Context, credential string) (Identity, error)
}

type ctxKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// AccountKinds are the credentials that act for an account. Device tokens and bootstrap records
// live on firmware and are limited to ingestion.
var AccountKinds = []Kind{KindAccessToken, KindAPIToken}

// Middleware authenticates the Authorization header. With required=false a request without a
// header passes through anonymously; a header that is present must still be valid. When allowed
// is non-empty, identities of any other kind get 403.
func Middleware(auth CredentialAuthenticator, required bool, log *slog.Logger, allowed ...Kind) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, err := CredentialFromHeader(r.Header.Get("Authorization"))
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "malformed authorization header")
				return
			}
			if cred == "" {
				if required {
					writeAuthError(w, http.StatusUnauthorized, "unauthorized", "authentication credentials were not provided")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			id, err := auth.Authenticate(r.Context(), cred)
			if err != nil {
				if reason, ok := IsAuthFailure(err); ok {
					status := http.StatusUnauthorized
					if reason == ReasonAccountInactive {
						status = http.StatusForbidden
					}
					writeAuthError(w, status, reason, "invalid credentials")
					return
				}
				log.Error("auth.resolve.fail", "path", r.URL.Path, "err", err)
				writeAuthError(w, http.StatusServiceUnavailable, "unavailable", "authentication backend unavailable")
				return
			}
			if len(allowed) > 0 && !slices.Contains(allowed, id.Kind) {
				log.Warn("auth.kind.denied", "path", r.URL.Path, "kind", id.Kind, "account_id", id.Account.ID)
				writeAuthError(w, http.StatusForbidden, ReasonCredentialNotAllowed, "credential type not allowed for this endpoint")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="motionhub"`)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": code, "message": msg}})
}
