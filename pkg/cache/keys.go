package cache

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// MaxKeyLength is the longest key accepted by ValidateKey.
const MaxKeyLength = 250

// ValidateKey rejects empty keys, keys longer than MaxKeyLength, and keys
// containing control characters or surrounding whitespace.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key too long (max %d characters)", ErrInvalidKey, MaxKeyLength)
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: key contains control character", ErrInvalidKey)
		}
	}
	if strings.TrimSpace(key) != key {
		return fmt.Errorf("%w: key has leading or trailing whitespace", ErrInvalidKey)
	}
	return nil
}

// KeyPattern builds keys with a fixed prefix, e.g. "balance:A1:alice".
type KeyPattern struct {
	prefix    string
	separator string
}

// NewKeyPattern returns a pattern; an empty separator defaults to ":".
func NewKeyPattern(prefix, separator string) *KeyPattern {
	if separator == "" {
		separator = ":"
	}
	return &KeyPattern{prefix: prefix, separator: separator}
}

// Build joins the prefix and parts with the separator.
func (kp *KeyPattern) Build(parts ...string) string {
	if len(parts) == 0 {
		return kp.prefix
	}
	return kp.prefix + kp.separator + strings.Join(parts, kp.separator)
}

// BuildTuple is Build with every part length-prefixed ("6:acct:1"), so parts
// that contain the separator cannot collide with a different split of the
// same text. Use it whenever a part comes from user input.
func (kp *KeyPattern) BuildTuple(parts ...string) string {
	var b strings.Builder
	b.WriteString(kp.prefix)
	for _, p := range parts {
		b.WriteString(kp.separator)
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteString(kp.separator)
		b.WriteString(p)
	}
	return b.String()
}

// Prefix returns the pattern prefix.
func (kp *KeyPattern) Prefix() string {
	return kp.prefix
}
