package tokenoracle

import (
	"context"
	"fmt"
	"strings"
)

// StaticOracle verifies tokens against a fixed allow-list instead of a
// signature, grounded on the teacher's own wrapWithAuth/normaliseTokens
// allow-list branch (internal/app/httpapi/auth.go): an operator-provisioned
// API token set, checked before falling through to JWT validation. Every
// token in the set is treated as the same static role, since the allow-list
// carries no claims of its own.
type StaticOracle struct {
	tokens map[string]struct{}
	role   string
}

// NewStaticTokenOracle returns a StaticOracle granting role for any token in
// tokens. Blank tokens are ignored.
func NewStaticTokenOracle(tokens []string, role string) *StaticOracle {
	if role == "" {
		role = "token"
	}
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = struct{}{}
		}
	}
	return &StaticOracle{tokens: set, role: role}
}

var _ Oracle = (*StaticOracle)(nil)

func (o *StaticOracle) Verify(ctx context.Context, token string) (*Claims, error) {
	if _, ok := o.tokens[token]; !ok {
		return nil, fmt.Errorf("tokenoracle: token not recognised")
	}
	return &Claims{Subject: token, Role: o.role}, nil
}

func (o *StaticOracle) PublicKey(ctx context.Context, issuer string) (any, error) {
	return nil, ErrStaticKeyOnly
}
