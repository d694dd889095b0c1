package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims is the verified subset of an access token.
type AccessClaims struct {
	AccountID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// JWTManager issues and verifies HS256 access tokens.
type JWTManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	skew   time.Duration
}

func NewJWTManager(cfg Config) (*JWTManager, error) {
	if len(cfg.JWTSecret) < MinJWTSecretBytes || cfg.AccessTokenTTL <= 0 || strings.TrimSpace(cfg.Issuer) == "" {
		return nil, ErrConfig
	}
	return &JWTManager{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		ttl:    cfg.AccessTokenTTL,
		skew:   cfg.ClockSkew,
	}, nil
}

// Issue signs an access token for accountID valid from now for the configured TTL.
func (m *JWTManager) Issue(accountID string, now time.Time) (string, time.Time, error) {
	if strings.TrimSpace(accountID) == "" {
		return "", time.Time{}, errors.New("session: empty account id")
	}
	now = now.UTC()
	exp := now.Add(m.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Subject:   accountID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm, issuer and time bounds. Every failure is ErrInvalidToken.
func (m *JWTManager) Verify(tok string, now time.Time) (AccessClaims, error) {
	var claims jwt.RegisteredClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(m.skew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	parsed, err := parser.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) { return m.secret, nil })
	if err != nil || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	out := AccessClaims{AccountID: claims.Subject}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// looksLikeJWT reports whether tok has the three dot-separated segments of a compact JWS.
func looksLikeJWT(tok string) bool { return strings.Count(tok, ".") == 2 }
