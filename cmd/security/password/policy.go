package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {}, "passw0rd": {}, "12345678": {},
	"123456789": {}, "1234567890": {}, "qwerty123": {}, "qwertyuiop": {}, "iloveyou": {},
	"sunshine": {}, "princess": {}, "football": {}, "baseball": {}, "welcome1": {},
	"letmein1": {}, "trustno1": {}, "superman": {}, "starwars": {}, "abc12345": {},
	"admin123": {}, "changeme": {}, "11111111": {}, "00000000": {}, "motionsensor": {},
}

// Validate checks password against the policy. attrs are compared by the similarity rule;
// emails are compared both whole and by local part.
func (c Config) Validate(password string, attrs ...string) error {
	n := utf8.RuneCountInString(password)
	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}

	if c.Policy.MaxSimilarity > 0 && similarToAny(password, attrs, c.Policy.MaxSimilarity) {
		return ErrPasswordSimilar
	}
	if c.Policy.RejectCommon {
		if _, ok := commonPasswords[strings.ToLower(strings.TrimSpace(password))]; ok {
			return ErrPasswordCommon
		}
	}
	if c.Policy.RejectNumeric && allDigits(password) {
		return ErrPasswordNumeric
	}
	return nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func similarToAny(password string, attrs []string, limit float64) bool {
	pw := strings.ToLower(password)
	for _, attr := range attrs {
		attr = strings.ToLower(strings.TrimSpace(attr))
		if attr == "" {
			continue
		}
		parts := []string{attr}
		if at := strings.IndexByte(attr, '@'); at > 0 {
			parts = append(parts, attr[:at])
		}
		parts = append(parts, strings.FieldsFunc(attr, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})...)
		for _, p := range parts {
			if similarity(pw, p) >= limit {
				return true
			}
		}
	}
	return false
}

// similarity is 2*LCS/(len(a)+len(b)) over runes, LCS being the longest common subsequence.
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			switch {
			case ra[i-1] == rb[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return 2 * float64(prev[len(rb)]) / float64(len(ra)+len(rb))
}
