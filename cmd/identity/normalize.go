package identity

import (
	"net/mail"
	"strings"
)

// NormalizeEmail canonicalizes an email for uniqueness and lookup.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidEmail reports whether s is a bare address ("a@b.c", no display name).
func ValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	return at > 0 && strings.Contains(s[at+1:], ".")
}

// ThemePreference values accepted on the profile.
const (
	ThemeLight  = "light"
	ThemeDark   = "dark"
	ThemeSystem = "system"
)

func validTheme(s string) bool {
	switch s {
	case ThemeLight, ThemeDark, ThemeSystem:
		return true
	}
	return false
}

func trimName(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > 30 {
		s = string(r[:30])
	}
	return s
}
