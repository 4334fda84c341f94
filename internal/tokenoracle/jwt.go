package tokenoracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTOracle verifies HS256 tokens against one static secret, grounded on
// internal/app/auth/supabase.go's SupabaseManager.Validate: reject any
// signing method other than HMAC, optional audience check, claim
// extraction by dotted path (e.g. "app_metadata.role") rather than fixed
// struct fields, since different issuers nest role/tenant claims
// differently.
type JWTOracle struct {
	secret      []byte
	audience    string
	roleClaim   string // dotted path, default "role"
	tenantClaim string // dotted path, default "tenant"
}

// NewJWTOracle returns a JWTOracle. roleClaim/tenantClaim default to "role"
// and "tenant" when empty.
func NewJWTOracle(secret, audience, roleClaim, tenantClaim string) *JWTOracle {
	if roleClaim == "" {
		roleClaim = "role"
	}
	if tenantClaim == "" {
		tenantClaim = "tenant"
	}
	return &JWTOracle{
		secret:      []byte(secret),
		audience:    audience,
		roleClaim:   roleClaim,
		tenantClaim: tenantClaim,
	}
}

var _ Oracle = (*JWTOracle)(nil)

// Verify parses and validates token, enforcing HMAC-only signing per the
// teacher's SupabaseManager (a non-HMAC alg header is a forged-token
// attempt, not a format this oracle should ever accept).
func (o *JWTOracle) Verify(ctx context.Context, token string) (*Claims, error) {
	if len(o.secret) == 0 {
		return nil, fmt.Errorf("tokenoracle: no signing secret configured")
	}

	raw := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("tokenoracle: unexpected signing method %v", t.Header["alg"])
		}
		return o.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("tokenoracle: invalid token")
	}

	if o.audience != "" {
		if ok, _ := raw.GetAudience(); !audienceMatches(ok, o.audience) {
			return nil, fmt.Errorf("tokenoracle: audience mismatch")
		}
	}

	subject, _ := raw.GetSubject()
	var expires time.Time
	if exp, err := raw.GetExpirationTime(); err == nil && exp != nil {
		expires = exp.Time
	}

	return &Claims{
		Subject:   subject,
		Role:      stringAt(raw, o.roleClaim),
		Tenant:    stringAt(raw, o.tenantClaim),
		ExpiresAt: expires,
		Raw:       raw,
	}, nil
}

// PublicKey reports that this adapter has no on-demand key source; it was
// constructed with one static secret.
func (o *JWTOracle) PublicKey(ctx context.Context, issuer string) (any, error) {
	return nil, ErrStaticKeyOnly
}

func audienceMatches(claimed jwt.ClaimStrings, want string) bool {
	for _, a := range claimed {
		if strings.EqualFold(strings.TrimSpace(a), want) {
			return true
		}
	}
	return false
}

// stringAt walks a dotted path (e.g. "app_metadata.role") through a decoded
// claim map, returning "" if any segment is missing or not a string/map.
func stringAt(claims jwt.MapClaims, path string) string {
	var current any = map[string]any(claims)
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = m[segment]
		if !ok {
			return ""
		}
	}
	s, _ := current.(string)
	return s
}

// CompositeOracle tries each Oracle in order, returning the first
// successful Verify, per the teacher's compositeValidator fallback chain
// in internal/app/httpapi/auth.go (useful when multiple signing keys are
// valid during a key-rotation window).
type CompositeOracle []Oracle

var _ Oracle = CompositeOracle(nil)

func (c CompositeOracle) Verify(ctx context.Context, token string) (*Claims, error) {
	var lastErr error
	for _, oracle := range c {
		claims, err := oracle.Verify(ctx, token)
		if err == nil {
			return claims, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("tokenoracle: no oracles configured")
	}
	return nil, lastErr
}

func (c CompositeOracle) PublicKey(ctx context.Context, issuer string) (any, error) {
	for _, oracle := range c {
		if key, err := oracle.PublicKey(ctx, issuer); err == nil {
			return key, nil
		}
	}
	return nil, ErrStaticKeyOnly
}
