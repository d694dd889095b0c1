package password

import (
	"errors"
	"strings"
	"testing"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func TestHashAndVerify(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	h, err := cfg.Hash("garage-sensor-lamp", "owner@example.com")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(h, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding: %q", h)
	}

	ok, err := cfg.Verify(h, "garage-sensor-lamp")
	if err != nil || !ok {
		t.Fatalf("Verify match: ok=%v err=%v", ok, err)
	}
	ok, err = cfg.Verify(h, "garage-sensor-lamp!")
	if err != nil || ok {
		t.Fatalf("Verify mismatch: ok=%v err=%v", ok, err)
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	for _, h := range []string{
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHQ$a2V5",
		"$argon2id$v=19$m=999999,t=1,p=1$c2FsdHNhbHNhbHRzYWx0$a2V5a2V5a2V5a2V5a2V5a2V5",
	} {
		ok, err := cfg.Verify(h, "whatever")
		if !errors.Is(err, ErrInvalidHash) || ok {
			t.Fatalf("Verify(%q) = %v, %v; want false, ErrInvalidHash", h, ok, err)
		}
	}
}

func TestNeedsRehash(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	h, err := cfg.Hash("garage-sensor-lamp")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if cfg.NeedsRehash(h) {
		t.Fatalf("fresh hash should not need rehash")
	}
	stronger := cfg
	stronger.Params.Iterations = 2
	if !stronger.NeedsRehash(h) {
		t.Fatalf("changed iterations should need rehash")
	}
	if !cfg.NeedsRehash("garbage") {
		t.Fatalf("garbage should need rehash")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Policy.MaxLength = 24

	cases := []struct {
		name  string
		pw    string
		attrs []string
		want  error
	}{
		{"too short", "abc", nil, ErrPasswordTooShort},
		{"too long", strings.Repeat("x", 25), nil, ErrPasswordTooLong},
		{"common", "Password123", nil, ErrPasswordCommon},
		{"numeric", "4815162342", nil, ErrPasswordNumeric},
		{"similar to email local part", "jdoe.motion", []string{"jdoe.motion@example.com"}, ErrPasswordSimilar},
		{"similar to name", "Beatrice1", []string{"", "beatrice"}, ErrPasswordSimilar},
		{"ok", "garage-sensor-lamp", []string{"owner@example.com", "Ada", "Lovelace"}, nil},
	}
	for _, tc := range cases {
		err := cfg.Validate(tc.pw, tc.attrs...)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: Validate(%q) = %v, want %v", tc.name, tc.pw, err, tc.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	if got := similarity("abcd", "abcd"); got != 1 {
		t.Fatalf("identical = %v", got)
	}
	if got := similarity("abcd", "wxyz"); got != 0 {
		t.Fatalf("disjoint = %v", got)
	}
	if got := similarity("abcd", "abxd"); got != 0.75 {
		t.Fatalf("one substitution = %v", got)
	}
}
