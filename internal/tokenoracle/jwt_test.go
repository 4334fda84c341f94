package tokenoracle

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestJWTOracleVerifyExtractsClaims(t *testing.T) {
	oracle := NewJWTOracle("shh", "", "app_metadata.role", "tenant")
	token := signToken(t, "shh", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
		"app_metadata": map[string]any{
			"role": "admin",
		},
		"tenant": "acme",
	})

	claims, err := oracle.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.Role != "admin" || claims.Tenant != "acme" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestJWTOracleVerifyRejectsBadSecret(t *testing.T) {
	oracle := NewJWTOracle("shh", "", "", "")
	token := signToken(t, "wrong-secret", jwt.MapClaims{"sub": "user-1"})

	if _, err := oracle.Verify(context.Background(), token); err == nil {
		t.Fatal("expected error for token signed with a different secret")
	}
}

func TestJWTOracleVerifyRejectsNonHMACAlg(t *testing.T) {
	oracle := NewJWTOracle("shh", "", "", "")
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-1"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := oracle.Verify(context.Background(), signed); err == nil {
		t.Fatal("expected error for alg=none token")
	}
}

func TestJWTOracleVerifyChecksAudience(t *testing.T) {
	oracle := NewJWTOracle("shh", "expected-aud", "", "")
	token := signToken(t, "shh", jwt.MapClaims{"sub": "user-1", "aud": "other-aud"})

	if _, err := oracle.Verify(context.Background(), token); err == nil {
		t.Fatal("expected audience mismatch error")
	}
}

func TestJWTOraclePublicKeyReturnsStaticKeyOnly(t *testing.T) {
	oracle := NewJWTOracle("shh", "", "", "")
	_, err := oracle.PublicKey(context.Background(), "https://issuer.example")
	if err != ErrStaticKeyOnly {
		t.Fatalf("expected ErrStaticKeyOnly, got %v", err)
	}
}

func TestCompositeOracleFallsBackToNextOracle(t *testing.T) {
	first := NewJWTOracle("secret-a", "", "", "")
	second := NewJWTOracle("secret-b", "", "", "")
	composite := CompositeOracle{first, second}

	token := signToken(t, "secret-b", jwt.MapClaims{"sub": "user-2"})
	claims, err := composite.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-2" {
		t.Fatalf("unexpected subject: %q", claims.Subject)
	}
}

func TestCompositeOracleReturnsErrorWhenNoneMatch(t *testing.T) {
	composite := CompositeOracle{NewJWTOracle("secret-a", "", "", "")}
	token := signToken(t, "secret-z", jwt.MapClaims{"sub": "user-3"})

	if _, err := composite.Verify(context.Background(), token); err == nil {
		t.Fatal("expected error when no oracle in the chain can verify the token")
	}
}
