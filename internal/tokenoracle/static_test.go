package tokenoracle

import (
	"context"
	"testing"
)

func TestStaticOracleVerifyAcceptsAllowListedToken(t *testing.T) {
	o := NewStaticTokenOracle([]string{"abc", " def "}, "operator")
	claims, err := o.Verify(context.Background(), "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.Subject != "abc" || claims.Role != "operator" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if _, err := o.Verify(context.Background(), "def"); err != nil {
		t.Fatalf("expected trimmed token to be allow-listed: %v", err)
	}
}

func TestStaticOracleVerifyRejectsUnknownToken(t *testing.T) {
	o := NewStaticTokenOracle([]string{"abc"}, "")
	if _, err := o.Verify(context.Background(), "nope"); err == nil {
		t.Fatalf("expected error for unrecognised token")
	}
}

func TestStaticOraclePublicKeyReturnsStaticKeyOnly(t *testing.T) {
	o := NewStaticTokenOracle(nil, "")
	if _, err := o.PublicKey(context.Background(), "issuer"); err != ErrStaticKeyOnly {
		t.Fatalf("expected ErrStaticKeyOnly, got %v", err)
	}
}
