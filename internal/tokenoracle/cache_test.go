package tokenoracle

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeOracle struct {
	calls  int
	claims *Claims
	err    error
}

func (f *fakeOracle) Verify(ctx context.Context, token string) (*Claims, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.claims, nil
}

func (f *fakeOracle) PublicKey(ctx context.Context, issuer string) (any, error) {
	return nil, ErrStaticKeyOnly
}

func TestCachedReturnsCachedClaimsWithoutCallingInnerAgain(t *testing.T) {
	inner := &fakeOracle{claims: &Claims{Subject: "user-1", ExpiresAt: time.Now().Add(time.Hour)}}
	cached := NewCached(inner)

	for i := 0; i < 3; i++ {
		claims, err := cached.Verify(context.Background(), "token-a")
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if claims.Subject != "user-1" {
			t.Fatalf("unexpected subject: %q", claims.Subject)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected inner oracle called once, got %d", inner.calls)
	}
}

func TestCachedReVerifiesAfterExpiry(t *testing.T) {
	inner := &fakeOracle{claims: &Claims{Subject: "user-1", ExpiresAt: time.Now().Add(time.Minute)}}
	cached := NewCached(inner)
	cached.now = func() time.Time { return time.Now().Add(time.Hour) }

	for i := 0; i < 2; i++ {
		if _, err := cached.Verify(context.Background(), "token-a"); err != nil {
			t.Fatalf("Verify: %v", err)
		}
	}
	if inner.calls != 2 {
		t.Fatalf("expected expired claims to be re-verified (2 calls), got %d", inner.calls)
	}
}

func TestCachedDoesNotCacheTokensWithoutExpiry(t *testing.T) {
	inner := &fakeOracle{claims: &Claims{Subject: "user-1"}}
	cached := NewCached(inner)

	cached.Verify(context.Background(), "token-a")
	cached.Verify(context.Background(), "token-a")
	if inner.calls != 2 {
		t.Fatalf("expected inner oracle called on every verify when claims have no expiry, got %d", inner.calls)
	}
}

func TestCachedPropagatesInnerError(t *testing.T) {
	inner := &fakeOracle{err: errors.New("boom")}
	cached := NewCached(inner)

	if _, err := cached.Verify(context.Background(), "token-a"); err == nil {
		t.Fatal("expected propagated error")
	}
}
