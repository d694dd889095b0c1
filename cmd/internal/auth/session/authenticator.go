package session

import (
	"context"
	"log/slog"
)

// Authenticator resolves credentials for transports and performs the bootstrap token backfill.
type Authenticator struct {
	resolver *Resolver
	tokens   *DeviceTokens
	metrics  *Metrics
	log      *slog.Logger
}

func NewAuthenticator(r *Resolver, tokens *DeviceTokens, m *Metrics, log *slog.Logger) *Authenticator {
	if log == nil {
		log = slog.Default()
	}
	return &Authenticator{resolver: r, tokens: tokens, metrics: m, log: log}
}

// Authenticate resolves credential. For bootstrap identities it then writes the device token; a
// failed backfill is logged and does not fail authentication.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (Identity, error) {
	id, err := a.resolver.Resolve(ctx, credential)
	if err != nil {
		if reason, ok := IsAuthFailure(err); ok {
			a.metrics.result("", reason)
		} else {
			a.metrics.result("", "error")
		}
		return Identity{}, err
	}
	a.metrics.result(id.Kind, "ok")

	if id.NeedsTokenBackfill() && a.tokens != nil {
		rec := id.Bootstrap
		dev, res, err := a.tokens.Ensure(ctx, EnsureTokenInput{
			OwnerID:  id.Account.ID,
			DeviceID: rec.DeviceID,
			Name:     rec.Name,
			Location: rec.Location,
			Token:    rec.Token,
		})
		if err != nil {
			a.metrics.backfill("error")
			a.log.Warn("auth.bootstrap.backfill.fail", "device_id", rec.DeviceID, "err", err)
			return id, nil
		}
		a.metrics.backfill("ok")
		if res.Created || res.TokenSet {
			a.log.Info("auth.bootstrap.backfill",
				"device_id", dev.DeviceID,
				"created", res.Created,
				"token_set", res.TokenSet,
			)
		}
		if dev.OwnerID == id.Account.ID && dev.IsActive {
			id.Device = &dev
		}
	}
	return id, nil
}
