package password

import "errors"

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrPasswordCommon   = errors.New("password too common")
	ErrPasswordNumeric  = errors.New("password entirely numeric")
	ErrPasswordSimilar  = errors.New("password too similar to account attributes")
	ErrInvalidHash      = errors.New("invalid password hash")
)
