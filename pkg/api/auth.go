package api

import (
	"errors"
	"net/http"
	"strings"
)

// DefaultIdentityHeader is set by the upstream gateway after it has
// authenticated the caller.
const DefaultIdentityHeader = "X-Authenticated-User"

// ErrUnauthenticated is returned when a request carries no identity.
var ErrUnauthenticated = errors.New("api: unauthenticated")

// Authenticator extracts the already verified identity of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// HeaderAuthenticator trusts a header written by the gateway in front of the
// service. It must not be exposed to clients directly.
type HeaderAuthenticator struct {
	Header string
}

// NewHeaderAuthenticator returns an authenticator reading header, or
// DefaultIdentityHeader when header is empty.
func NewHeaderAuthenticator(header string) HeaderAuthenticator {
	if header == "" {
		header = DefaultIdentityHeader
	}
	return HeaderAuthenticator{Header: header}
}

func (a HeaderAuthenticator) Authenticate(r *http.Request) (string, error) {
	identity := strings.TrimSpace(r.Header.Get(a.Header))
	if identity == "" {
		return "", ErrUnauthenticated
	}
	return identity, nil
}
