package transfer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Status is the outcome of a transfer execution. Exactly one status is
// produced per call.
type Status int

const (
	StatusSuccess Status = iota
	// StatusUnauthorized covers both a missing source and a source owned by
	// someone else; the two are deliberately indistinguishable.
	StatusUnauthorized
	StatusTargetNotFound
	StatusInvalidAmount
	StatusInsufficientFunds
	StatusInternal
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusUnauthorized:
		return "unauthorized"
	case StatusTargetNotFound:
		return "target_not_found"
	case StatusInvalidAmount:
		return "invalid_amount"
	case StatusInsufficientFunds:
		return "insufficient_funds"
	case StatusInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// MarshalText renders the status name in JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Declined reports whether the status is a business refusal rather than a
// success or a store failure.
func (s Status) Declined() bool {
	switch s {
	case StatusUnauthorized, StatusTargetNotFound, StatusInvalidAmount, StatusInsufficientFunds:
		return true
	}
	return false
}

var (
	// ErrInternal wraps every store failure surfaced by Execute.
	ErrInternal = errors.New("transfer: internal error")

	// ErrInvalidAmount is returned by ParseAmount for non-integer input.
	ErrInvalidAmount = errors.New("transfer: amount must be a whole number")
)

// InternalError carries the store failure behind a StatusInternal result.
// It matches both ErrInternal and the cause with errors.Is.
type InternalError struct {
	Reference string
	Cause     error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("transfer %s: internal error: %v", e.Reference, e.Cause)
}

func (e *InternalError) Unwrap() []error {
	return []error{ErrInternal, e.Cause}
}

// Request is one transfer invocation. Owner must be an identity already
// authenticated by the caller.
type Request struct {
	SourceID string
	TargetID string
	Amount   int64
	Owner    string
}

// Result is the structured outcome of Execute.
type Result struct {
	Status    Status `json:"status"`
	Reference string `json:"reference"`
	SourceID  string `json:"from"`
	TargetID  string `json:"to"`
	Amount    int64  `json:"amount"`

	// Available is the source balance, set only for StatusInsufficientFunds.
	// By then the requester is known to own the source.
	Available int64 `json:"available,omitempty"`

	// MaxAmount is the configured cap, set only for StatusInvalidAmount.
	MaxAmount int64 `json:"max_amount,omitempty"`

	// Err is set only for StatusInternal and is the same error Execute returns.
	Err error `json:"-"`
}

// OK reports whether the transfer was performed.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// ParseAmount converts textual input into an amount. Validation of the
// numeric range happens in Execute.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return n, nil
}
