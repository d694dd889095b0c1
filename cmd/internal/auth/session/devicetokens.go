package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"motionhub/cmd/identity"
	"motionhub/cmd/internal/sensors"
	"motionhub/cmd/security/token"
)

// EnsureTokenInput describes a device whose token should exist. OwnerID wins over OwnerEmail when
// both are set.
type EnsureTokenInput struct {
	OwnerID    string
	OwnerEmail string
	DeviceID   string
	Name       string
	Location   string
	Token      string
}

// DeviceTokens writes device tokens. It is the only writer of device token digests.
type DeviceTokens struct {
	devices    sensors.Store
	accounts   identity.Store
	hasher     token.Hasher
	tokenBytes int
	now        func() time.Time
}

func NewDeviceTokens(devices sensors.Store, accounts identity.Store, hasher token.Hasher, tokenBytes int) *DeviceTokens {
	if tokenBytes <= 0 {
		tokenBytes = DefaultConfig().DeviceTokenBytes
	}
	return &DeviceTokens{
		devices:    devices,
		accounts:   accounts,
		hasher:     hasher,
		tokenBytes: tokenBytes,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Ensure gets or creates the device and sets its token only when none is set. Calling it again with
// the same input changes nothing.
func (d *DeviceTokens) Ensure(ctx context.Context, in EnsureTokenInput) (sensors.Device, sensors.EnsureResult, error) {
	tok := strings.TrimSpace(in.Token)
	if tok == "" || strings.TrimSpace(in.DeviceID) == "" {
		return sensors.Device{}, sensors.EnsureResult{}, fmt.Errorf("session.EnsureDeviceToken: %w", sensors.ErrInvalidInput)
	}

	ownerID := in.OwnerID
	if ownerID == "" {
		acct, err := d.accounts.AccountByEmail(ctx, in.OwnerEmail)
		if err != nil {
			return sensors.Device{}, sensors.EnsureResult{}, fmt.Errorf("session.EnsureDeviceToken: owner %q: %w", identity.NormalizeEmail(in.OwnerEmail), err)
		}
		ownerID = acct.ID
	}

	return d.devices.EnsureDevice(ctx, sensors.EnsureDeviceInput{
		DeviceID:  in.DeviceID,
		OwnerID:   ownerID,
		Name:      in.Name,
		Location:  in.Location,
		TokenHash: d.hasher.Hash(tok),
		Now:       d.now(),
	})
}

// Rotate replaces the device token with a fresh one and returns it in plain form. The plain value
// is not stored anywhere.
func (d *DeviceTokens) Rotate(ctx context.Context, deviceRef string) (string, error) {
	tok, err := token.NewHex(d.tokenBytes)
	if err != nil {
		return "", err
	}
	if err := d.devices.SetDeviceToken(ctx, deviceRef, d.hasher.Hash(tok), d.now()); err != nil {
		return "", err
	}
	return tok, nil
}
