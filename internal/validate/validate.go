// Package validate implements the validator decorator (C8's other half):
// a wrapper that decodes a request's query parameters (GET) or JSON body
// (everything else) into a validator value, runs its Validate method, and
// turns any field errors into a *apperr.ValidationError before the wrapped
// handler runs.
//
// Grounded on spec §4.9's validator-decorator description directly; the
// teacher has no equivalent generic decode-then-validate wrapper (its
// handlers decode ad hoc per endpoint in internal/app/httpapi/handler.go),
// so this is new code in the teacher's general style of small composable
// http.Handler-shaped wrappers (see wrapWithAuth/wrapWithCORS).
package validate

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/meridianhq/apprt/internal/ambient"
	"github.com/meridianhq/apprt/internal/apperr"
	"github.com/meridianhq/apprt/internal/pipeline"
	"github.com/meridianhq/apprt/internal/router"
)

// FieldError mirrors apperr.FieldError for validators that want to build
// error lists without importing apperr directly.
type FieldError = apperr.FieldError

// Validator is implemented by request-shaped structs a handler wants
// decoded and checked before it runs. Validate returns one FieldError per
// invalid field; an empty/nil slice means the request is valid.
type Validator interface {
	Validate() []FieldError
}

// Decode populates dst (which must satisfy Validator, and be a pointer for
// JSON decoding to work) from the ambient request: query parameters for
// GET, JSON body otherwise.
func Decode(ctx context.Context, dst any) error {
	req, ok := ambient.RequestFrom(ctx).(*pipeline.Request)
	if !ok || req == nil {
		return apperr.Internal("validate: no pipeline request installed in ambient context")
	}

	if req.Method == "GET" {
		return decodeQuery(req, dst)
	}
	if len(req.Body) == 0 {
		return nil
	}
	return json.Unmarshal(req.Body, dst)
}

// decodeQuery hands dst a flat map of query parameters (the first value of
// each key, as strings; no type conversion is done here): since Go structs
// need reflection to populate generically and this codebase prefers
// explicit descriptors over reflection (per internal/entity's own design
// note), Decode requires GET validators to implement QueryDecodable
// directly.
func decodeQuery(req *pipeline.Request, dst any) error {
	qd, ok := dst.(QueryDecodable)
	if !ok {
		return apperr.Internal("validate: %T must implement QueryDecodable to decode GET query parameters", dst)
	}
	values := make(map[string]string, len(req.Query))
	for k := range req.Query {
		values[k] = req.Query.Get(k)
	}
	return qd.DecodeQuery(values)
}

// QueryDecodable is implemented by validators that can be populated from a
// flat string-keyed query parameter map.
type QueryDecodable interface {
	DecodeQuery(values map[string]string) error
}

// Wrap returns a router.Handler that decodes and validates newValidator()
// before calling next, translating a non-empty Validate() result into a
// *apperr.ValidationError (short-circuiting next entirely).
func Wrap(next router.Handler, newValidator func() Validator) router.Handler {
	return func(ctx context.Context, params map[string]string) (any, error) {
		v := newValidator()
		if err := Decode(ctx, v); err != nil {
			return nil, err
		}
		if errs := v.Validate(); len(errs) > 0 {
			return nil, apperr.NewValidationError(errs...)
		}
		return next(ctx, params)
	}
}

// ParseIntParam is a small helper validators commonly need when decoding
// route parameters (already string-typed by the router) into integers.
func ParseIntParam(params map[string]string, name string) (int, bool) {
	raw, ok := params[name]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}
