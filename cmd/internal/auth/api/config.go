package authapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls accounts API behavior and login throttling.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	LoginIPMax    int
	LoginIPWindow time.Duration

	LockoutShortThreshold  int
	LockoutShortDuration   time.Duration
	LockoutLongThreshold   int
	LockoutLongDuration    time.Duration
	LockoutSevereThreshold int
	LockoutSevereDuration  time.Duration
}

// DefaultConfig returns the limits used when no environment overrides are set.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:           64 << 10,
		LoginIPMax:             20,
		LoginIPWindow:          5 * time.Minute,
		LockoutShortThreshold:  5,
		LockoutShortDuration:   5 * time.Minute,
		LockoutLongThreshold:   10,
		LockoutLongDuration:    30 * time.Minute,
		LockoutSevereThreshold: 20,
		LockoutSevereDuration:  2 * time.Hour,
	}
}

// LoadConfigFromEnv loads MOTION_AUTH_* overrides onto DefaultConfig. Invalid values keep the
// default.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	cfg := Config{
		TrustProxy:             envBool("MOTION_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:           envInt64("MOTION_AUTH_MAX_BODY_BYTES", def.MaxBodyBytes),
		LoginIPMax:             envInt("MOTION_AUTH_LOGIN_IP_MAX", def.LoginIPMax),
		LoginIPWindow:          envDuration("MOTION_AUTH_LOGIN_IP_WINDOW", def.LoginIPWindow),
		LockoutShortThreshold:  envInt("MOTION_AUTH_LOGIN_LOCKOUT_SHORT_THRESHOLD", def.LockoutShortThreshold),
		LockoutShortDuration:   envDuration("MOTION_AUTH_LOGIN_LOCKOUT_SHORT_DURATION", def.LockoutShortDuration),
		LockoutLongThreshold:   envInt("MOTION_AUTH_LOGIN_LOCKOUT_LONG_THRESHOLD", def.LockoutLongThreshold),
		LockoutLongDuration:    envDuration("MOTION_AUTH_LOGIN_LOCKOUT_LONG_DURATION", def.LockoutLongDuration),
		LockoutSevereThreshold: envInt("MOTION_AUTH_LOGIN_LOCKOUT_SEVERE_THRESHOLD", def.LockoutSevereThreshold),
		LockoutSevereDuration:  envDuration("MOTION_AUTH_LOGIN_LOCKOUT_SEVERE_DURATION", def.LockoutSevereDuration),
	}

	// Tiers must escalate, otherwise a later tier would never apply.
	if cfg.LockoutLongThreshold <= cfg.LockoutShortThreshold {
		cfg.LockoutLongThreshold = cfg.LockoutShortThreshold * 2
	}
	if cfg.LockoutSevereThreshold <= cfg.LockoutLongThreshold {
		cfg.LockoutSevereThreshold = cfg.LockoutLongThreshold * 2
	}
	return cfg
}

func (c Config) lockoutTiers() []lockoutTier {
	return []lockoutTier{
		{Threshold: c.LockoutSevereThreshold, Duration: c.LockoutSevereDuration},
		{Threshold: c.LockoutLongThreshold, Duration: c.LockoutLongDuration},
		{Threshold: c.LockoutShortThreshold, Duration: c.LockoutShortDuration},
	}
}

func (c Config) lockoutHorizon() time.Duration {
	return max(c.LockoutShortDuration, c.LockoutLongDuration, c.LockoutSevereDuration)
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
