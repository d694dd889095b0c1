package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"motionhub/cmd/identity"
	"motionhub/cmd/internal/sensors"
	"motionhub/cmd/security/token"
)

// Kind records which resolution step matched a credential.
type Kind string

const (
	KindAccessToken Kind = "access_token"
	KindAPIToken    Kind = "api_token"
	KindDeviceToken Kind = "device_token"
	KindBootstrap   Kind = "bootstrap"
)

// BootstrapCredential is a statically configured device credential. It resolves to the account
// owning OwnerEmail until the device carries a token of its own.
type BootstrapCredential struct {
	Token      string `mapstructure:"token"`
	OwnerEmail string `mapstructure:"owner_email"`
	DeviceID   string `mapstructure:"device_id"`
	Name       string `mapstructure:"name"`
	Location   string `mapstructure:"location"`
}

// Identity is the result of a successful resolution.
type Identity struct {
	Account identity.Account
	// Device is set for device-token credentials and, after backfill, for bootstrap credentials.
	Device    *sensors.Device
	Kind      Kind
	Bootstrap *BootstrapCredential
}

// NeedsTokenBackfill reports whether the identity came from a bootstrap record whose device token
// still has to be written.
func (id Identity) NeedsTokenBackfill() bool {
	return id.Kind == KindBootstrap && id.Bootstrap != nil
}

// Principal is the ingestion view of the identity.
func (id Identity) Principal() sensors.Principal {
	return sensors.Principal{AccountID: id.Account.ID, Device: id.Device}
}

// Resolver maps a credential to an Identity. It never writes.
type Resolver struct {
	accounts  identity.Store
	devices   sensors.Store
	hasher    token.Hasher
	jwt       *JWTManager
	bootstrap []BootstrapCredential
	now       func() time.Time
}

type ResolverOption func(*Resolver)

// WithBootstrap installs bootstrap credential records. Records without a token are ignored.
func WithBootstrap(recs []BootstrapCredential) ResolverOption {
	return func(r *Resolver) {
		for _, rec := range recs {
			if strings.TrimSpace(rec.Token) == "" {
				continue
			}
			rec.OwnerEmail = identity.NormalizeEmail(rec.OwnerEmail)
			rec.DeviceID = strings.TrimSpace(rec.DeviceID)
			r.bootstrap = append(r.bootstrap, rec)
		}
	}
}

func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver builds a resolver. jwt may be nil, which disables access tokens.
func NewResolver(accounts identity.Store, devices sensors.Store, hasher token.Hasher, jwt *JWTManager, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		accounts: accounts,
		devices:  devices,
		hasher:   hasher,
		jwt:      jwt,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r
}

// Resolve tries access token, API token, device token and bootstrap records in that order; the
// first match wins. A match on an inactive account stops with AuthFailure{account_inactive}.
// Storage failures are returned unwrapped so callers can tell them from bad credentials.
func (r *Resolver) Resolve(ctx context.Context, credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, AuthFailure{Reason: ReasonInvalidCredential}
	}

	steps := []func(context.Context, string) (Identity, bool, error){
		r.fromAccessToken,
		r.fromAPIToken,
		r.fromDeviceToken,
		r.fromBootstrap,
	}
	for _, step := range steps {
		id, ok, err := step(ctx, credential)
		if err != nil {
			return Identity{}, err
		}
		if ok {
			if !id.Account.IsActive {
				return Identity{}, AuthFailure{Reason: ReasonAccountInactive}
			}
			return id, nil
		}
	}
	return Identity{}, AuthFailure{Reason: ReasonInvalidCredential}
}

func (r *Resolver) fromAccessToken(ctx context.Context, cred string) (Identity, bool, error) {
	if r.jwt == nil || !looksLikeJWT(cred) {
		return Identity{}, false, nil
	}
	claims, err := r.jwt.Verify(cred, r.now())
	if err != nil {
		return Identity{}, false, nil
	}
	acct, ok, err := r.account(ctx, r.accounts.AccountByID, claims.AccountID)
	if !ok || err != nil {
		return Identity{}, false, err
	}
	return Identity{Account: acct, Kind: KindAccessToken}, true, nil
}

func (r *Resolver) fromAPIToken(ctx context.Context, cred string) (Identity, bool, error) {
	acct, ok, err := r.account(ctx, r.accounts.AccountByAPIToken, r.hasher.Hash(cred))
	if !ok || err != nil {
		return Identity{}, false, err
	}
	return Identity{Account: acct, Kind: KindAPIToken}, true, nil
}

// fromDeviceToken skips inactive devices so a deactivated device's token falls through to the
// remaining steps instead of resolving.
func (r *Resolver) fromDeviceToken(ctx context.Context, cred string) (Identity, bool, error) {
	dev, err := r.devices.DeviceByTokenHash(ctx, r.hasher.Hash(cred))
	if errors.Is(err, sensors.ErrNotFound) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, err
	}
	if !dev.IsActive {
		return Identity{}, false, nil
	}
	acct, ok, err := r.account(ctx, r.accounts.AccountByID, dev.OwnerID)
	if !ok || err != nil {
		return Identity{}, false, err
	}
	return Identity{Account: acct, Device: &dev, Kind: KindDeviceToken}, true, nil
}

// fromBootstrap matches a seeded record only while its device is absent or carries no other token.
// Once the device is deactivated or its token rotated, the literal stops resolving.
func (r *Resolver) fromBootstrap(ctx context.Context, cred string) (Identity, bool, error) {
	for i := range r.bootstrap {
		rec := r.bootstrap[i]
		if subtle.ConstantTimeCompare([]byte(cred), []byte(rec.Token)) != 1 {
			continue
		}
		usable, err := r.bootstrapDeviceUsable(ctx, rec)
		if !usable || err != nil {
			return Identity{}, false, err
		}
		acct, ok, err := r.account(ctx, r.accounts.AccountByEmail, rec.OwnerEmail)
		if !ok || err != nil {
			return Identity{}, false, err
		}
		return Identity{Account: acct, Kind: KindBootstrap, Bootstrap: &rec}, true, nil
	}
	return Identity{}, false, nil
}

func (r *Resolver) bootstrapDeviceUsable(ctx context.Context, rec BootstrapCredential) (bool, error) {
	if rec.DeviceID == "" {
		return true, nil
	}
	dev, err := r.devices.DeviceByExternalID(ctx, rec.DeviceID)
	if errors.Is(err, sensors.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if !dev.IsActive {
		return false, nil
	}
	if dev.TokenHash != nil && *dev.TokenHash != "" {
		want := r.hasher.Hash(rec.Token)
		return subtle.ConstantTimeCompare([]byte(*dev.TokenHash), []byte(want)) == 1, nil
	}
	return true, nil
}

// account runs a lookup, turning not-found and malformed keys into a miss.
func (r *Resolver) account(ctx context.Context, lookup func(context.Context, string) (identity.Account, error), key string) (identity.Account, bool, error) {
	if strings.TrimSpace(key) == "" {
		return identity.Account{}, false, nil
	}
	acct, err := lookup(ctx, key)
	if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
		return identity.Account{}, false, nil
	}
	if err != nil {
		return identity.Account{}, false, err
	}
	return acct, true, nil
}
