package identity

import (
	"context"
	"time"
)

// Account is the human principal that owns devices.
type Account struct {
	ID              string    `db:"id" json:"id"`
	Email           string    `db:"email" json:"email"`
	FirstName       string    `db:"first_name" json:"first_name"`
	LastName        string    `db:"last_name" json:"last_name"`
	ThemePreference string    `db:"theme_preference" json:"theme_preference"`
	IsVerified      bool      `db:"is_verified" json:"email_verified"`
	IsActive        bool      `db:"is_active" json:"is_active"`
	PasswordHash    string    `db:"password_hash" json:"-"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// CreateAccountInput registers a new account. PasswordHash is an encoded Argon2id hash; an empty
// hash creates an account that cannot log in with a password (seeded owners).
type CreateAccountInput struct {
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Now          time.Time
}

// ProfilePatch updates the mutable profile fields; nil leaves a field unchanged.
type ProfilePatch struct {
	FirstName       *string
	LastName        *string
	ThemePreference *string
}

// Store is the account persistence boundary.
type Store interface {
	CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error)
	AccountByID(ctx context.Context, id string) (Account, error)
	AccountByEmail(ctx context.Context, email string) (Account, error)
	UpdateProfile(ctx context.Context, id string, p ProfilePatch, now time.Time) (Account, error)
	SetPasswordHash(ctx context.Context, id, hash string, now time.Time) error
	SetActive(ctx context.Context, id string, active bool, now time.Time) error

	// SetAPIToken binds tokenHash as the account's single API token, replacing any previous one.
	SetAPIToken(ctx context.Context, accountID, tokenHash string, now time.Time) error
	// RevokeAPIToken removes the account's API token. Revoking a missing token is not an error.
	RevokeAPIToken(ctx context.Context, accountID string) error
	// AccountByAPIToken resolves a token digest to its account; ErrNotFound when unbound.
	AccountByAPIToken(ctx context.Context, tokenHash string) (Account, error)
}

func prepareCreate(op string, in CreateAccountInput) (CreateAccountInput, error) {
	in.Email = NormalizeEmail(in.Email)
	if !ValidEmail(in.Email) {
		return in, invalid(op, "invalid email")
	}
	in.FirstName = trimName(in.FirstName)
	in.LastName = trimName(in.LastName)
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return in, nil
}

func applyPatch(op string, a *Account, p ProfilePatch) error {
	if p.ThemePreference != nil && !validTheme(*p.ThemePreference) {
		return invalid(op, "theme_preference must be light, dark or system")
	}
	if p.FirstName != nil {
		a.FirstName = trimName(*p.FirstName)
	}
	if p.LastName != nil {
		a.LastName = trimName(*p.LastName)
	}
	if p.ThemePreference != nil {
		a.ThemePreference = *p.ThemePreference
	}
	return nil
}
