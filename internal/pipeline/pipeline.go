package pipeline

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/meridianhq/apprt/internal/ambient"
	"github.com/meridianhq/apprt/internal/apperr"
	"github.com/meridianhq/apprt/internal/dbhandle"
	"github.com/meridianhq/apprt/internal/eventbus"
	"github.com/meridianhq/apprt/internal/router"
	"github.com/meridianhq/apprt/pkg/logger"
)

// statusCoder is implemented by every member of the apperr taxonomy.
type statusCoder interface {
	StatusCode() int
}

// Pipeline drives the request lifecycle described in spec §4.7: parse,
// BeforeRequest, favicon short-circuit, tenant resolution, db handle
// acquisition, ambient-context-scoped route resolution and invocation,
// outcome classification, response send (security headers, CORS preflight,
// content-encoding, cookies), AfterRequest.
//
// Grounded on the teacher's internal/app/httpapi/service.go, whose
// middleware chain documents the exact ordering discipline this pipeline
// inlines into one linear lifecycle instead of nested http.Handler wraps:
// "auth should see real requests, CORS should short-circuit preflight
// OPTIONS before auth, metrics wraps the final handler."
type Pipeline struct {
	Mux           *router.Mux
	Pool          *dbhandle.Pool
	Bus           *eventbus.Bus
	DefaultTenant string
	Log           *logger.Logger
}

// New returns a Pipeline. log defaults via logger.NewDefault if nil.
func New(mux *router.Mux, pool *dbhandle.Pool, bus *eventbus.Bus, defaultTenant string, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NewDefault("pipeline")
	}
	if defaultTenant == "" {
		defaultTenant = "public"
	}
	return &Pipeline{Mux: mux, Pool: pool, Bus: bus, DefaultTenant: defaultTenant, Log: log}
}

// ServeHTTP implements the full per-request lifecycle.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := buildRequest(r)

	if p.Bus != nil {
		p.Bus.Dispatch("BeforeRequest", map[string]any{"method": req.Method, "path": req.Path()})
	}
	defer func() {
		if p.Bus != nil {
			p.Bus.Dispatch("AfterRequest", map[string]any{"method": req.Method, "path": req.Path()})
		}
	}()

	if req.Path() == "/favicon.ico" {
		p.writeResponse(w, req, 200, []byte{}, "image/x-icon")
		return
	}

	tenant := resolveTenant(req, p.DefaultTenant)

	handle, err := p.Pool.Acquire(ctx, tenant)
	if err != nil {
		p.Log.WithField("tenant", tenant).WithField("error", err).Error("acquire db handle failed")
		p.writeError(w, req, apperr.New(apperr.KindServiceUnavailable, "database unavailable"))
		return
	}

	handler, params, matched := p.Mux.Resolve(req.Method, req.Path())
	if req.Method == http.MethodOptions {
		p.writeResponse(w, req, 204, nil, "")
		_ = p.Pool.Release(handle, nil)
		return
	}
	if !matched {
		_ = p.Pool.Release(handle, nil)
		p.writeError(w, req, apperr.ResourceNotFound("no route matches %s %s", req.Method, req.Path()))
		return
	}

	values := ambient.Values{DB: handle, Request: req, Tenant: tenant}
	if p.Bus != nil {
		values.EventBus = p.Bus
	}
	scoped, restore := ambient.Scope(ctx, values)

	result, handlerErr := handler(scoped, params)
	restore()

	if releaseErr := p.Pool.Release(handle, handlerErr); releaseErr != nil {
		p.Log.WithField("tenant", tenant).WithField("error", releaseErr).Error("release db handle failed")
	}

	if handlerErr != nil {
		p.writeError(w, req, handlerErr)
		return
	}
	p.writeSuccess(w, req, result)
}

func (p *Pipeline) writeSuccess(w http.ResponseWriter, req *Request, result any) {
	var body []byte
	switch v := result.(type) {
	case nil:
		body = []byte{}
	case []byte:
		body = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			p.writeError(w, req, apperr.Internal("encode response: %v", err))
			return
		}
		body = encoded
	}
	p.writeResponse(w, req, 200, body, "application/json")
}

func (p *Pipeline) writeError(w http.ResponseWriter, req *Request, err error) {
	status := 500
	var body []byte

	var ve *apperr.ValidationError
	var sc statusCoder
	if errors.As(err, &ve) {
		status = ve.StatusCode()
		body, _ = json.Marshal(map[string]any{"validation_errors": ve.Errors})
	} else if errors.As(err, &sc) {
		status = sc.StatusCode()
		body, _ = json.Marshal(map[string]any{"error": err.Error()})
	} else {
		body, _ = json.Marshal(map[string]any{"error": "internal server error"})
	}
	p.writeResponse(w, req, status, body, "application/json")
}

// writeResponse sends the response-start and response-body records per
// spec §4.7: status, content headers, unconditional security headers, CORS
// preflight headers when the request is OPTIONS, any cookies accumulated on
// the request as Set-Cookie, then the (possibly re-encoded) body.
func (p *Pipeline) writeResponse(w http.ResponseWriter, req *Request, status int, body []byte, contentType string) {
	for name, value := range securityHeaders {
		w.Header().Set(name, value)
	}
	if req.Method == http.MethodOptions {
		for name, value := range corsHeaders {
			w.Header().Set(name, value)
		}
	}
	for _, c := range req.outCookies {
		http.SetCookie(w, c)
	}

	encoding := "identity"
	if len(body) > 0 {
		encoding = negotiateEncoding(req.Header("Accept-Encoding"))
		body, encoding = encodeBody(body, encoding)
	}

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Content-Encoding", encoding)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if len(body) > 0 {
		_, _ = w.Write(body)
	}
}
