// Package auth defines the authentication contract the HTTP layer
// consumes. The core treats authentication as an external collaborator:
// it only needs an identity string (or an error) out of an inbound
// request, specified here by interface, never by a mandated
// implementation.
package auth

import (
	"net/http"

	"github.com/medallion-go/taxii/core/taxiierr"
)

// Provider authenticates an inbound request and returns a caller
// identity. A non-nil error must be a *taxiierr.Error of Kind
// Unauthorized (missing/invalid credentials); Provider never itself
// decides collection-level Forbidden access — that remains the HTTP
// layer's decision, made from the collection's own can_read/can_write
// booleans.
type Provider interface {
	Authenticate(r *http.Request) (identity string, err error)
}

// Anonymous is the zero-configuration Provider: every request
// authenticates as the fixed "anonymous" identity. It is the default
// when no Provider is configured, matching the core's "specified only by
// contract" stance on authentication.
type Anonymous struct{}

// Authenticate always succeeds as "anonymous".
func (Anonymous) Authenticate(r *http.Request) (string, error) {
	return "anonymous", nil
}

// MissingCredentials is a convenience constructor for the Unauthorized
// error a Provider should return when no usable credential is present.
func MissingCredentials(reason string) error {
	return taxiierr.New(taxiierr.Unauthorized, "missing or invalid credentials: %s", reason)
}
