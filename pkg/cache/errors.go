package cache

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrKeyNotFound is returned by Get on a cache miss.
	ErrKeyNotFound = errors.New("cache: key not found")

	// ErrInvalidKey is returned for keys rejected by ValidateKey.
	ErrInvalidKey = errors.New("cache: invalid key")

	// ErrInvalidValue is returned when a payload cannot be stored or decoded.
	ErrInvalidValue = errors.New("cache: invalid value")

	// ErrLayerUnavailable is returned when a layer is closed or unreachable.
	ErrLayerUnavailable = errors.New("cache: layer unavailable")

	// ErrTimeout is returned when a layer operation exceeds its deadline.
	ErrTimeout = errors.New("cache: operation timeout")

	// ErrCircuitOpen is returned while a layer's circuit breaker rejects calls.
	ErrCircuitOpen = errors.New("cache: circuit breaker open")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func IsUnavailable(err error) bool {
	return errors.Is(err, ErrLayerUnavailable)
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// ClassifyError returns a short label for err, used as a log field.
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_breaker_open"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrKeyNotFound):
		return "key_not_found"
	case errors.Is(err, ErrLayerUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalidKey):
		return "invalid_key"
	case errors.Is(err, ErrInvalidValue):
		return "invalid_value"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "connection", "connect", "dial"):
		return "connection"
	case containsAny(msg, "marshal", "unmarshal", "encode", "decode"):
		return "serialization"
	case containsAny(msg, "redis"):
		return "backend"
	default:
		return "other"
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// WrapError prefixes err with the layer and operation, keeping it matchable.
func WrapError(err error, layer, operation string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("cache layer %s %s: %w", layer, operation, err)
}
