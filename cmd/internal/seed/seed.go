// Package seed loads operator-provided accounts and bootstrap device credentials at startup.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"motionhub/cmd/identity"
	"motionhub/cmd/internal/auth/session"
	"motionhub/cmd/internal/sensors"
	"motionhub/cmd/security/password"
)

// Account is a seeded owner. An empty Password creates an account that cannot log in with a
// password until one is set.
type Account struct {
	Email     string `mapstructure:"email"`
	FirstName string `mapstructure:"first_name"`
	LastName  string `mapstructure:"last_name"`
	Password  string `mapstructure:"password"`
}

// File is the decoded seed file.
type File struct {
	Accounts  []Account                     `mapstructure:"accounts"`
	Bootstrap []session.BootstrapCredential `mapstructure:"bootstrap"`
}

// Load reads a YAML, JSON or TOML seed file; the format follows the extension. An empty path
// yields an empty File.
func Load(path string) (File, error) {
	var f File
	path = strings.TrimSpace(path)
	if path == "" {
		return f, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return File{}, fmt.Errorf("seed: read %s: %w", path, err)
	}
	if err := v.Unmarshal(&f); err != nil {
		return File{}, fmt.Errorf("seed: decode %s: %w", path, err)
	}
	for i, b := range f.Bootstrap {
		if strings.TrimSpace(b.Token) == "" || strings.TrimSpace(b.DeviceID) == "" || strings.TrimSpace(b.OwnerEmail) == "" {
			return File{}, fmt.Errorf("seed: bootstrap[%d]: token, device_id and owner_email are required", i)
		}
	}
	return f, nil
}

// DeviceTokenEnsurer is the subset of session.DeviceTokens the seeder needs.
type DeviceTokenEnsurer interface {
	Ensure(ctx context.Context, in session.EnsureTokenInput) (sensors.Device, sensors.EnsureResult, error)
}

// Result counts what Apply changed.
type Result struct {
	AccountsCreated int
	DevicesCreated  int
	TokensSet       int
}

// Seeder applies a File. Applying the same File twice changes nothing the second time.
type Seeder struct {
	log       *slog.Logger
	accounts  identity.Store
	passwords password.Config
	tokens    DeviceTokenEnsurer
}

func NewSeeder(log *slog.Logger, accounts identity.Store, passwords password.Config, tokens DeviceTokenEnsurer) *Seeder {
	if log == nil {
		log = slog.Default()
	}
	return &Seeder{log: log, accounts: accounts, passwords: passwords, tokens: tokens}
}

// Apply creates missing accounts, then gets-or-creates each bootstrap device and sets its token
// when none is set. A bootstrap record whose owner does not exist is skipped with a warning.
func (s *Seeder) Apply(ctx context.Context, f File) (Result, error) {
	var res Result

	for _, a := range f.Accounts {
		created, err := s.ensureAccount(ctx, a)
		if err != nil {
			return res, err
		}
		if created {
			res.AccountsCreated++
		}
	}

	for _, b := range f.Bootstrap {
		dev, r, err := s.tokens.Ensure(ctx, session.EnsureTokenInput{
			OwnerEmail: b.OwnerEmail,
			DeviceID:   b.DeviceID,
			Name:       b.Name,
			Location:   b.Location,
			Token:      b.Token,
		})
		if err != nil {
			if identity.IsNotFound(err) {
				s.log.Warn("seed.bootstrap.owner_missing", "device_id", b.DeviceID, "owner_email", identity.NormalizeEmail(b.OwnerEmail))
				continue
			}
			return res, fmt.Errorf("seed: bootstrap %s: %w", b.DeviceID, err)
		}
		if r.Created {
			res.DevicesCreated++
		}
		if r.TokenSet {
			res.TokensSet++
		}
		s.log.Info("seed.bootstrap.ensure", "device_id", dev.DeviceID, "created", r.Created, "token_set", r.TokenSet)
	}
	return res, nil
}

func (s *Seeder) ensureAccount(ctx context.Context, a Account) (bool, error) {
	email := identity.NormalizeEmail(a.Email)
	if _, err := s.accounts.AccountByEmail(ctx, email); err == nil {
		return false, nil
	} else if !identity.IsNotFound(err) {
		return false, fmt.Errorf("seed: account %s: %w", email, err)
	}

	var hash string
	if a.Password != "" {
		h, err := s.passwords.Hash(a.Password, email, a.FirstName, a.LastName)
		if err != nil {
			return false, fmt.Errorf("seed: account %s: %w", email, err)
		}
		hash = h
	}
	acc, err := s.accounts.CreateAccount(ctx, identity.CreateAccountInput{
		Email:        email,
		FirstName:    a.FirstName,
		LastName:     a.LastName,
		PasswordHash: hash,
	})
	if errors.Is(err, identity.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("seed: account %s: %w", email, err)
	}
	s.log.Info("seed.account.create", "account_id", acc.ID)
	return true, nil
}
