package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/meridianhq/apprt/internal/ambient"
	"github.com/meridianhq/apprt/internal/dbhandle"
	"github.com/meridianhq/apprt/internal/router"
)

// expectAcquire sets up the first-contact migration bootstrap plus request
// transaction mock expectations a pool.Acquire(ctx, "acme") call triggers,
// matching the pattern established in internal/orm's tests.
func expectAcquire(mock sqlmock.Sqlmock, namespace string) {
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "` + namespace + `"\.migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "public"\.migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT hash FROM "` + namespace + `"\.migrations`).WillReturnRows(sqlmock.NewRows([]string{"hash"}))
	mock.ExpectCommit()
	mock.ExpectBegin()
}

func newTestPool(t *testing.T) (*dbhandle.Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return dbhandle.NewPool(db, t.TempDir()), mock
}

func TestServeHTTPResolvesRouteAndReturns200(t *testing.T) {
	pool, mock := newTestPool(t)
	expectAcquire(mock, "acme")
	mock.ExpectCommit()

	mux := router.NewMux()
	r := router.New("")
	r.Get("/accounts/{id:int}", func(ctx context.Context, params map[string]string) (any, error) {
		if ambient.TenantFrom(ctx) != "acme" {
			t.Errorf("expected tenant acme in ambient context, got %q", ambient.TenantFrom(ctx))
		}
		return map[string]any{"id": params["id"]}, nil
	})
	mux.Mount(r)

	p := New(mux, pool, nil, "public", nil)

	req := httptest.NewRequest(http.MethodGet, "/accounts/42", nil)
	req.Header.Set("X-Subdomain", "acme")
	w := httptest.NewRecorder()

	p.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Content-Security-Policy") == "" {
		t.Error("expected CSP header to be set unconditionally")
	}
	if w.Header().Get("Strict-Transport-Security") == "" {
		t.Error("expected HSTS header to be set unconditionally")
	}
	if w.Header().Get("X-Frame-Options") != "SAMEORIGIN" {
		t.Error("expected X-Frame-Options: SAMEORIGIN")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestServeHTTPNoMatchReturns404(t *testing.T) {
	pool, mock := newTestPool(t)
	expectAcquire(mock, "public")
	mock.ExpectCommit()

	mux := router.NewMux()
	p := New(mux, pool, nil, "public", nil)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	if w.Code != 404 {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestServeHTTPFaviconShortCircuits(t *testing.T) {
	pool, _ := newTestPool(t)
	mux := router.NewMux()
	p := New(mux, pool, nil, "public", nil)

	req := httptest.NewRequest(http.MethodGet, "/favicon.ico", nil)
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Fatalf("expected empty favicon body, got %d bytes", w.Body.Len())
	}
}

func TestServeHTTPOptionsGetsCORSPreflightHeaders(t *testing.T) {
	pool, mock := newTestPool(t)
	expectAcquire(mock, "public")
	mock.ExpectCommit()

	mux := router.NewMux()
	p := New(mux, pool, nil, "public", nil)

	req := httptest.NewRequest(http.MethodOptions, "/accounts", nil)
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	if w.Code != 204 {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS preflight headers on OPTIONS")
	}
}

func TestResolveTenantPriority(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"subdomain wins", map[string]string{"X-Subdomain": "Acme-Corp"}, "acme_corp"},
		{"forwarded host first label", map[string]string{"X-Forwarded-Host": "tenant-a.example.com"}, "tenant_a"},
		{"host with 3+ labels", map[string]string{"Host": "tenant-b.api.example.com"}, "tenant_b"},
		{"host with 2 labels falls back to default", map[string]string{"Host": "example.com"}, "public"},
		{"nothing set falls back to default", map[string]string{}, "public"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			headers := make(map[string][]string)
			for k, v := range tc.headers {
				headers[lower(k)] = []string{v}
			}
			req := &Request{Headers: headers}
			if got := resolveTenant(req, "public"); got != tc.want {
				t.Errorf("resolveTenant() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNegotiateEncodingPicksHighestPriorityMatch(t *testing.T) {
	cases := map[string]string{
		"gzip, deflate":      "gzip",
		"zstd, gzip":         "zstd",
		"deflate":            "deflate",
		"br":                 "identity",
		"":                   "identity",
		"gzip;q=0.5, zstd":   "zstd",
	}
	for accept, want := range cases {
		if got := negotiateEncoding(accept); got != want {
			t.Errorf("negotiateEncoding(%q) = %q, want %q", accept, got, want)
		}
	}
}

func TestBuildRequestLowerCasesHeadersAndParsesCookies(t *testing.T) {
	raw := httptest.NewRequest(http.MethodGet, "/x?a=1", nil)
	raw.Header.Set("X-Custom", "v")
	raw.AddCookie(&http.Cookie{Name: "session", Value: "xyz"})

	req := buildRequest(raw)
	if req.Header("x-custom") != "v" {
		t.Fatalf("expected lower-cased header lookup to work, got %q", req.Header("x-custom"))
	}
	if req.Cookies["session"] != "xyz" {
		t.Fatalf("expected cookie session=xyz, got %v", req.Cookies)
	}
	if req.Query.Get("a") != "1" {
		t.Fatalf("expected query a=1, got %v", req.Query)
	}
}

func lower(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
