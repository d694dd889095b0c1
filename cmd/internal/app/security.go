package app

import (
	"errors"
	"fmt"

	"motionhub/cmd/security/token"
)

// newTokenHasher builds the opaque-token hasher. With MOTION_REQUIRE_TOKEN_HMAC set, startup fails
// unless a long enough MOTION_TOKEN_HMAC_KEY is present; weaker hashing is never substituted.
func newTokenHasher(cfg Config) (token.Hasher, error) {
	h, err := token.HasherFromEnv(cfg.RequireTokenHMAC)
	switch {
	case errors.Is(err, token.ErrHMACKeyMissing):
		return token.Hasher{}, fmt.Errorf("security policy: MOTION_REQUIRE_TOKEN_HMAC=true but %s is missing", token.HMACEnvKey)
	case errors.Is(err, token.ErrHMACKeyTooShort):
		return token.Hasher{}, fmt.Errorf("security policy: %s is too short (min %d bytes)", token.HMACEnvKey, token.MinHMACKeyBytes)
	case err != nil:
		return token.Hasher{}, err
	}
	if cfg.RequireTokenHMAC && !h.Keyed() {
		return token.Hasher{}, errors.New("security policy: token hasher is not in HMAC mode")
	}
	return h, nil
}
