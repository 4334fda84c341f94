// Package tokenoracle declares the bearer-token verification contract (C9):
// verify a token, extract claims, cache verified payloads by expiry, and
// fetch issuer public keys on demand. Per spec §3's component table this is
// a contract-only collaborator - "implementation is external" - so this
// package is mostly an interface plus a caching wrapper; a concrete JWT
// adapter and a static allow-list adapter are included, grounded on
// internal/app/auth/supabase.go and internal/app/httpapi/auth.go.
package tokenoracle

import (
	"context"
	"time"
)

// Claims is the verified payload C7's auth decorator installs as the
// ambient principal: a subject id, role, tenant (when the token carries
// one), and the raw claim set for anything not promoted to a named field.
type Claims struct {
	Subject   string
	Role      string
	Tenant    string
	ExpiresAt time.Time
	Raw       map[string]any
}

// Oracle is the full C9 contract. Verify checks signature, expiry, and
// (where configured) audience, returning Claims on success. PublicKey
// fetches an issuer's signing key on demand, for oracles backed by a JWKS
// endpoint or similar key-rotation scheme rather than a single static
// secret; adapters with a single static key may return ErrStaticKeyOnly.
type Oracle interface {
	Verify(ctx context.Context, token string) (*Claims, error)
	PublicKey(ctx context.Context, issuer string) (any, error)
}

// ErrStaticKeyOnly is returned by PublicKey implementations that don't
// support on-demand key fetch because they're configured with one static
// secret (the common case for this deployment's own HS256 tokens).
var ErrStaticKeyOnly = staticKeyOnlyError{}

type staticKeyOnlyError struct{}

func (staticKeyOnlyError) Error() string {
	return "tokenoracle: this adapter uses one static key, no on-demand fetch"
}
