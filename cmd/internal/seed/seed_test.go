package seed

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"motionhub/cmd/identity"
	"motionhub/cmd/internal/auth/session"
	"motionhub/cmd/internal/sensors"
	"motionhub/cmd/security/password"
	"motionhub/cmd/security/token"
)

const seedYAML = `
accounts:
  - email: Owner@Example.com
    first_name: Ada
    last_name: Byron
    password: garage-sensor-lamp
  - email: viewer@example.com
bootstrap:
  - token: 54836780fc03bcdff737d0eadbe16156f461342f
    owner_email: owner@example.com
    device_id: ESP32_001
    name: ESP32 Device ESP32_001
    location: Living Room
  - token: "0000000000000000000000000000000000000001"
    owner_email: nobody@example.com
    device_id: ESP32_404
`

func writeSeed(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	f, err := Load(writeSeed(t, "seed.yaml", seedYAML))
	require.NoError(t, err)
	require.Len(t, f.Accounts, 2)
	assert.Equal(t, "Ada", f.Accounts[0].FirstName)
	require.Len(t, f.Bootstrap, 2)
	assert.Equal(t, session.BootstrapCredential{
		Token:      "54836780fc03bcdff737d0eadbe16156f461342f",
		OwnerEmail: "owner@example.com",
		DeviceID:   "ESP32_001",
		Name:       "ESP32 Device ESP32_001",
		Location:   "Living Room",
	}, f.Bootstrap[0])
}

func TestLoad_EmptyPathAndErrors(t *testing.T) {
	f, err := Load("  ")
	require.NoError(t, err)
	assert.Empty(t, f.Bootstrap)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeSeed(t, "seed.json", `{"bootstrap":[{"token":"abc","device_id":"D1"}]}`))
	assert.ErrorContains(t, err, "owner_email")
}

func TestSeeder_ApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	accounts := identity.NewMemoryStore()
	devices := sensors.NewMemoryStore()
	hasher := token.NewHasher(nil)

	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1

	s := NewSeeder(slog.New(slog.NewTextHandler(io.Discard, nil)), accounts, pw, session.NewDeviceTokens(devices, accounts, hasher, 20))
	f, err := Load(writeSeed(t, "seed.yaml", seedYAML))
	require.NoError(t, err)

	res, err := s.Apply(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, Result{AccountsCreated: 2, DevicesCreated: 1, TokensSet: 1}, res)

	owner, err := accounts.AccountByEmail(ctx, "owner@example.com")
	require.NoError(t, err)
	ok, err := pw.Verify(owner.PasswordHash, "garage-sensor-lamp")
	require.NoError(t, err)
	assert.True(t, ok)

	dev, err := devices.DeviceByTokenHash(ctx, hasher.Hash("54836780fc03bcdff737d0eadbe16156f461342f"))
	require.NoError(t, err)
	assert.Equal(t, "ESP32_001", dev.DeviceID)
	assert.Equal(t, owner.ID, dev.OwnerID)
	assert.Equal(t, "Living Room", dev.Location)

	_, err = devices.DeviceByExternalID(ctx, "ESP32_404")
	assert.ErrorIs(t, err, sensors.ErrNotFound)

	res, err = s.Apply(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestSeeder_WeakPasswordFails(t *testing.T) {
	s := NewSeeder(nil, identity.NewMemoryStore(), password.DefaultConfig(), nil)
	_, err := s.Apply(context.Background(), File{Accounts: []Account{{Email: "a@example.com", Password: "123"}}})
	assert.ErrorIs(t, err, password.ErrPasswordTooShort)
}
