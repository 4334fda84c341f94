// Package router implements the request router and typed path-segment
// matcher (C6): a router owns a prefix and an ordered route list; a route
// matches a method and a slash-delimited template whose `{name:int}` and
// `{name:str}` segments bind path parameters.
//
// Grounded on the original's zara.server.router (Router/Route,
// prefix-plus-ordered-route-list, first-match-wins `resolve`) generalized to
// the spec's typed segment matching, which the original itself does not do
// (it only prefix-matches on `/{router.name}`); the manual path-splitting
// idiom follows the teacher's internal/app/httpapi/handler.go
// (accountResources: strings.Trim + strings.Split on "/").
package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Handler is invoked with the request's context (carrying the ambient
// values C7 installs before invoking the handler: db handle, request, event bus,
// tenant) and the parameters bound from the matched route's template,
// keyed by parameter name. Int parameters are passed as string too
// (already validated to parse); callers re-parse with strconv if they need
// the numeric value, mirroring how the spec describes handler invocation
// "with keyword parameters from the route."
type Handler func(ctx context.Context, params map[string]string) (any, error)

// segmentType is the declared type of a template parameter segment.
type segmentType int

const (
	segmentStatic segmentType = iota
	segmentInt
	segmentStr
)

type segment struct {
	kind segmentType
	text string // literal text for segmentStatic, parameter name otherwise
}

// Route is one (method, template, handler) triple, plus its pre-split
// segments for matching.
type Route struct {
	Method   string
	Template string // the prefixed, normalised template
	Handler  Handler
	segments []segment
}

// Router owns a prefix and an ordered list of routes. Prefix is prepended
// to every registered path when building the stored template.
type Router struct {
	prefix string
	routes []Route
	seen   map[string]bool // "METHOD canonical-path" -> true, for duplicate detection
}

// New returns a router mounted at prefix (may be empty for the root
// router). prefix is normalised the same way templates are.
func New(prefix string) *Router {
	return &Router{prefix: normalisePath(prefix), seen: make(map[string]bool)}
}

// Get registers a GET route.
func (r *Router) Get(path string, h Handler) { r.add("GET", path, h) }

// Post registers a POST route.
func (r *Router) Post(path string, h Handler) { r.add("POST", path, h) }

// Put registers a PUT route.
func (r *Router) Put(path string, h Handler) { r.add("PUT", path, h) }

// Patch registers a PATCH route.
func (r *Router) Patch(path string, h Handler) { r.add("PATCH", path, h) }

// Delete registers a DELETE route.
func (r *Router) Delete(path string, h Handler) { r.add("DELETE", path, h) }

// add appends a route, prepending the router's prefix, normalising the
// result, and returns whether this (method, canonical path) pair duplicates
// one already registered on this router. The Get/Post/Put/Patch/Delete
// helpers discard that result; duplicates across all mounted routers are
// reported by Mux.DuplicateRoutes, which Application.Start logs.
// Per spec §4.6's "detected at startup and logged" ambiguity policy, the
// route is still added (first-match-wins at resolution time); duplicates
// are a startup diagnostic, not a registration error.
func (r *Router) add(method, path string, h Handler) bool {
	full := normalisePath(strings.TrimSuffix(r.prefix, "/") + normalisePath(path))
	key := method + " " + full
	duplicate := r.seen[key]
	r.seen[key] = true

	r.routes = append(r.routes, Route{
		Method:   method,
		Template: full,
		Handler:  h,
		segments: splitSegments(full),
	})
	return duplicate
}

// Routes returns the registered routes in insertion order (used to build a
// startup duplicate-route report and to compose multiple routers).
func (r *Router) Routes() []Route { return r.routes }

// Resolve finds the first route (in insertion order) whose method matches
// and whose template matches path, decoding any typed parameters. Returns
// (nil, nil) when nothing matches, per spec §4.6.
func (r *Router) Resolve(method, path string) (Handler, map[string]string) {
	path = normalisePath(path)
	pathParts := strings.Split(strings.Trim(path, "/"), "/")
	if path == "/" {
		pathParts = []string{}
	}

	for _, route := range r.routes {
		if route.Method != method {
			continue
		}
		params, ok := matchSegments(route.segments, pathParts)
		if !ok {
			continue
		}
		return route.Handler, params
	}
	return nil, nil
}

func matchSegments(tmpl []segment, path []string) (map[string]string, bool) {
	if len(tmpl) != len(path) {
		return nil, false
	}
	params := make(map[string]string, len(tmpl))
	for i, seg := range tmpl {
		part := path[i]
		switch seg.kind {
		case segmentStatic:
			if seg.text != part {
				return nil, false
			}
		case segmentInt:
			if _, err := strconv.Atoi(part); err != nil {
				return nil, false
			}
			params[seg.text] = part
		case segmentStr:
			params[seg.text] = part
		}
	}
	return params, true
}

// splitSegments splits a normalised template into typed segments.
func splitSegments(template string) []segment {
	trimmed := strings.Trim(template, "/")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, "/")
	out := make([]segment, len(parts))
	for i, part := range parts {
		out[i] = parseSegment(part)
	}
	return out
}

// parseSegment parses one template segment: "{name:int}", "{name:str}", or
// a static literal.
func parseSegment(part string) segment {
	if !strings.HasPrefix(part, "{") || !strings.HasSuffix(part, "}") {
		return segment{kind: segmentStatic, text: part}
	}
	inner := part[1 : len(part)-1]
	name, typ, ok := strings.Cut(inner, ":")
	if !ok {
		return segment{kind: segmentStr, text: inner}
	}
	switch typ {
	case "int":
		return segment{kind: segmentInt, text: name}
	default:
		return segment{kind: segmentStr, text: name}
	}
}

// normalisePath makes path start with "/" and not end with "/" (except the
// root path itself), per spec §4.6.
func normalisePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

// String renders a route's method and template for diagnostics.
func (route Route) String() string {
	return fmt.Sprintf("%s %s", route.Method, route.Template)
}
