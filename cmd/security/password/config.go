package password

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls hashing cost. MemoryKiB is in KiB as argon2.IDKey expects.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy is the set of rules a new password must satisfy.
type Policy struct {
	MinLength int
	MaxLength int

	// RejectCommon refuses passwords from the built-in common list.
	RejectCommon bool
	// RejectNumeric refuses passwords made only of digits.
	RejectNumeric bool
	// MaxSimilarity refuses passwords whose similarity ratio to any account attribute is at or
	// above this value. Zero disables the check.
	MaxSimilarity float64
}

type Config struct {
	Params Argon2idParams
	Policy Policy
}

func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads < 1 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:     8,
			MaxLength:     256,
			RejectCommon:  true,
			RejectNumeric: true,
			MaxSimilarity: 0.7,
		},
	}
}

// FromEnv overlays MOTION_PASSWORD_* and MOTION_ARGON2_* variables onto DefaultConfig.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	ints := []struct {
		key      string
		min, max int
		dst      *int
	}{
		{"MOTION_PASSWORD_MIN_LEN", 1, 1024, &cfg.Policy.MinLength},
		{"MOTION_PASSWORD_MAX_LEN", 1, 4096, &cfg.Policy.MaxLength},
	}
	for _, it := range ints {
		v, ok := os.LookupEnv(it.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < it.min || n > it.max {
			return Config{}, fmt.Errorf("%s: want integer in [%d..%d]", it.key, it.min, it.max)
		}
		*it.dst = n
	}

	u32s := []struct {
		key      string
		min, max uint32
		dst      *uint32
	}{
		{"MOTION_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, &cfg.Params.MemoryKiB},
		{"MOTION_ARGON2_ITERATIONS", 1, 20, &cfg.Params.Iterations},
		{"MOTION_ARGON2_SALT_LEN", 8, 64, &cfg.Params.SaltLength},
		{"MOTION_ARGON2_KEY_LEN", 16, 64, &cfg.Params.KeyLength},
	}
	for _, it := range u32s {
		v, ok := os.LookupEnv(it.key)
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
		if err != nil || uint32(n) < it.min || uint32(n) > it.max {
			return Config{}, fmt.Errorf("%s: want integer in [%d..%d]", it.key, it.min, it.max)
		}
		*it.dst = uint32(n)
	}

	if v, ok := os.LookupEnv("MOTION_ARGON2_PARALLELISM"); ok {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 8)
		if err != nil || n == 0 || n > 64 {
			return Config{}, fmt.Errorf("MOTION_ARGON2_PARALLELISM: want integer in [1..64]")
		}
		cfg.Params.Parallelism = uint8(n)
	}

	if v, ok := os.LookupEnv("MOTION_PASSWORD_MAX_SIMILARITY"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || f < 0 || f > 1 {
			return Config{}, fmt.Errorf("MOTION_PASSWORD_MAX_SIMILARITY: want number in [0..1]")
		}
		cfg.Policy.MaxSimilarity = f
	}

	for key, dst := range map[string]*bool{
		"MOTION_PASSWORD_REJECT_COMMON":  &cfg.Policy.RejectCommon,
		"MOTION_PASSWORD_REJECT_NUMERIC": &cfg.Policy.RejectNumeric,
	} {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("%s: invalid boolean", key)
		}
		*dst = b
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}
	return cfg, nil
}
