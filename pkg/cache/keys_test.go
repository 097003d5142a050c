package cache

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"balance key", "balance:A1:alice", false},
		{"accounts key", "accounts:alice", false},
		{"unicode owner", "accounts:josé", false},
		{"empty key", "", true},
		{"too long", strings.Repeat("a", 300), true},
		{"exactly max", strings.Repeat("a", MaxKeyLength), false},
		{"one over max", strings.Repeat("a", MaxKeyLength+1), true},
		{"control char null", "balance\x00A1", true},
		{"newline", "balance:A1\n", true},
		{"DEL character", "key\x7fvalue", true},
		{"leading space", " balance:A1", true},
		{"trailing space", "balance:A1 ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("ValidateKey(%q) should wrap ErrInvalidKey, got %v", tt.key, err)
			}
		})
	}
}

func TestKeyPattern_Build(t *testing.T) {
	pattern := NewKeyPattern("balance", ":")

	tests := []struct {
		name     string
		parts    []string
		expected string
	}{
		{"no parts", nil, "balance"},
		{"one part", []string{"A1"}, "balance:A1"},
		{"two parts", []string{"A1", "alice"}, "balance:A1:alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pattern.Build(tt.parts...); got != tt.expected {
				t.Errorf("Build(%v) = %q, want %q", tt.parts, got, tt.expected)
			}
		})
	}
}

func TestNewKeyPattern_DefaultSeparator(t *testing.T) {
	if got := NewKeyPattern("accounts", "").Build("alice"); got != "accounts:alice" {
		t.Errorf("Build() = %q, want %q", got, "accounts:alice")
	}
	if got := NewKeyPattern("accounts", "|").Build("alice"); got != "accounts|alice" {
		t.Errorf("Build() = %q, want %q", got, "accounts|alice")
	}
}

func TestKeyPattern_BuildTuple(t *testing.T) {
	pattern := NewKeyPattern("balance", ":")

	if got := pattern.BuildTuple("A1", "alice"); got != "balance:2:A1:5:alice" {
		t.Errorf("BuildTuple() = %q, want %q", got, "balance:2:A1:5:alice")
	}
	if got := pattern.BuildTuple(); got != "balance" {
		t.Errorf("BuildTuple() = %q, want %q", got, "balance")
	}

	// the same text split differently must not share a key
	collisions := [][2][]string{
		{{"acct:1", "bob"}, {"acct", "1:bob"}},
		{{"a", ""}, {"", "a"}},
		{{"1:a", "b"}, {"1", "a:b"}},
	}
	for _, c := range collisions {
		if a, b := pattern.BuildTuple(c[0]...), pattern.BuildTuple(c[1]...); a == b {
			t.Errorf("BuildTuple(%q) and BuildTuple(%q) both produce %q", c[0], c[1], a)
		}
	}
}
