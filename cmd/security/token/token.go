package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// #nosec G101 -- environment variable name, not a credential.
const HMACEnvKey = "MOTION_TOKEN_HMAC_KEY"

// MinHMACKeyBytes is the smallest key accepted when HMAC is required.
const MinHMACKeyBytes = 32

// Hasher digests opaque tokens. The zero value uses plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher keyed with key; an empty key selects SHA-256.
func NewHasher(key []byte) Hasher {
	return Hasher{key: append([]byte(nil), key...)}
}

// HasherFromEnv builds a Hasher from MOTION_TOKEN_HMAC_KEY. With require set, a missing key or one
// shorter than MinHMACKeyBytes is an error.
func HasherFromEnv(require bool) (Hasher, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		if require {
			return Hasher{}, ErrHMACKeyMissing
		}
		return Hasher{}, nil
	}
	if require && len(raw) < MinHMACKeyBytes {
		return Hasher{}, ErrHMACKeyTooShort
	}
	return NewHasher([]byte(raw)), nil
}

// Keyed reports whether the Hasher uses HMAC.
func (h Hasher) Keyed() bool { return len(h.key) > 0 }

// Hash returns the hex digest of tok.
func (h Hasher) Hash(tok string) string {
	if len(h.key) == 0 {
		sum := sha256.Sum256([]byte(tok))
		return hex.EncodeToString(sum[:])
	}
	m := hmac.New(sha256.New, h.key)
	_, _ = m.Write([]byte(tok))
	return hex.EncodeToString(m.Sum(nil))
}

// Equal compares tok against a stored digest in constant time.
func (h Hasher) Equal(tok, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(h.Hash(tok)), []byte(digest)) == 1
}

// NewHex returns a random lower-case hex token of nBytes entropy (minimum 16). Device firmware
// stores tokens in fixed hex buffers, so device tokens use this form.
func NewHex(nBytes int) (string, error) {
	if nBytes < 16 {
		nBytes = 16
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token: rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// New returns a random URL-safe token of nBytes entropy (minimum 16).
func New(nBytes int) (string, error) {
	if nBytes < 16 {
		nBytes = 16
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token: rand: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
