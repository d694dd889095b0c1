package session

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// MinJWTSecretBytes is the shortest HS256 secret accepted.
const MinJWTSecretBytes = 32

// Config is the runtime configuration for credential issuing and resolution.
type Config struct {
	// Issuer is written to and required in the "iss" claim.
	Issuer string

	AccessTokenTTL time.Duration

	// ClockSkew is the leeway applied to exp/iat/nbf checks.
	ClockSkew time.Duration

	// JWTSecret signs access tokens (HS256).
	JWTSecret string

	// APITokenBytes and DeviceTokenBytes size newly generated opaque tokens.
	APITokenBytes    int
	DeviceTokenBytes int
}

func DefaultConfig() Config {
	return Config{
		Issuer:           "motionhub",
		AccessTokenTTL:   time.Hour,
		ClockSkew:        30 * time.Second,
		APITokenBytes:    32,
		DeviceTokenBytes: 20,
	}
}

// LoadConfigFromEnv reads MOTION_JWT_SECRET (required, at least MinJWTSecretBytes) and the
// optional MOTION_AUTH_ISSUER, MOTION_AUTH_ACCESS_TTL, MOTION_AUTH_CLOCK_SKEW,
// MOTION_AUTH_API_TOKEN_BYTES and MOTION_AUTH_DEVICE_TOKEN_BYTES. Any invalid value is ErrConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("MOTION_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}
	if v := os.Getenv("MOTION_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}
	if v := os.Getenv("MOTION_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 || d > 5*time.Minute {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}
	for key, dst := range map[string]*int{
		"MOTION_AUTH_API_TOKEN_BYTES":    &cfg.APITokenBytes,
		"MOTION_AUTH_DEVICE_TOKEN_BYTES": &cfg.DeviceTokenBytes,
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 16 || n > 64 {
			return Config{}, ErrConfig
		}
		*dst = n
	}

	cfg.JWTSecret = strings.TrimSpace(os.Getenv("MOTION_JWT_SECRET"))
	if len(cfg.JWTSecret) < MinJWTSecretBytes {
		return Config{}, ErrConfig
	}
	return cfg, nil
}
