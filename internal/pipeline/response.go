package pipeline

import (
	"bytes"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// securityHeaders are emitted unconditionally on every response, per
// spec §4.7's "CSP, HSTS, and X-Frame-Options headers are emitted
// unconditionally."
var securityHeaders = map[string]string{
	"Content-Security-Policy": "default-src 'self'; script-src 'self'; style-src 'self'; " +
		"img-src 'self' data:; frame-ancestors 'self'; form-action 'self'; " +
		"block-all-mixed-content; upgrade-insecure-requests",
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains; preload",
	"X-Frame-Options":           "SAMEORIGIN",
}

// corsHeaders are added only to responses for OPTIONS preflight requests,
// which are answered with them alone (no body, 204), grounded on the
// teacher's wrapWithCORS in internal/app/httpapi/service.go.
var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Headers": "Authorization, Content-Type",
	"Access-Control-Allow-Methods": "GET, POST, PUT, PATCH, DELETE, OPTIONS",
}

// negotiateEncoding picks the best content-encoding the client declared
// support for via Accept-Encoding, per spec §6: zstd, br, gzip, deflate,
// else identity. No brotli encoder exists anywhere in this codebase's
// dependency stack, so "br" is accepted in the client's header but never
// selected; see DESIGN.md for why that gap is accepted rather than filled
// with a hand-rolled encoder.
func negotiateEncoding(acceptEncoding string) string {
	accepted := make(map[string]bool)
	for _, tok := range strings.Split(acceptEncoding, ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(tok), ";")
		accepted[strings.ToLower(strings.TrimSpace(name))] = true
	}
	for _, candidate := range []string{"zstd", "gzip", "deflate"} {
		if accepted[candidate] {
			return candidate
		}
	}
	return "identity"
}

// encodeBody compresses body per encoding, returning the possibly-unchanged
// body and the encoding actually applied (identity on any encoder failure,
// so a broken compressor never fails the response).
func encodeBody(body []byte, encoding string) ([]byte, string) {
	switch encoding {
	case "gzip":
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return body, "identity"
		}
		if err := w.Close(); err != nil {
			return body, "identity"
		}
		return buf.Bytes(), "gzip"
	case "deflate":
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return body, "identity"
		}
		if _, err := w.Write(body); err != nil {
			return body, "identity"
		}
		if err := w.Close(); err != nil {
			return body, "identity"
		}
		return buf.Bytes(), "deflate"
	case "zstd":
		var buf bytes.Buffer
		w, err := zstd.NewWriter(&buf)
		if err != nil {
			return body, "identity"
		}
		if _, err := w.Write(body); err != nil {
			return body, "identity"
		}
		if err := w.Close(); err != nil {
			return body, "identity"
		}
		return buf.Bytes(), "zstd"
	default:
		return body, "identity"
	}
}
