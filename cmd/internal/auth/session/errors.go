package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is returned when an access token fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")

	// ErrMalformedHeader is returned for an Authorization header with a known scheme but no usable
	// credential.
	ErrMalformedHeader = errors.New("malformed authorization header")
)

// Failure reasons carried by AuthFailure.
const (
	ReasonInvalidCredential = "invalid_credential"
	ReasonAccountInactive   = "account_inactive"
	// ReasonCredentialNotAllowed is the HTTP error code for a valid credential of the wrong kind.
	ReasonCredentialNotAllowed = "credential_not_allowed"
)

// AuthFailure means the credential does not identify an active account. It is not returned for
// infrastructure errors, which propagate as-is.
type AuthFailure struct {
	Reason string
}

func (e AuthFailure) Error() string { return fmt.Sprintf("authentication failed: %s", e.Reason) }

// IsAuthFailure reports whether err is an AuthFailure and returns its reason.
func IsAuthFailure(err error) (string, bool) {
	var af AuthFailure
	if errors.As(err, &af) {
		return af.Reason, true
	}
	return "", false
}
