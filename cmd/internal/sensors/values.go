package sensors

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

var errNotNumeric = errors.New("not a number")

// ParseScalar decodes an optional temperature or humidity value. Absent, null and empty-string
// values are nil; numbers and numeric strings (form submissions) are accepted; anything else,
// including NaN and infinities, is an error.
func ParseScalar(raw json.RawMessage) (*float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var f float64
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, errNotNumeric
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errNotNumeric
		}
		f = v
	default:
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, errNotNumeric
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, errNotNumeric
	}
	return &f, nil
}

// StringValue wraps a form value as a raw JSON string.
func StringValue(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
