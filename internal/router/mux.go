package router

import "fmt"

// Mux composes multiple routers in insertion order, matching spec §4.6's
// ambiguity policy: "first-match-wins by router insertion order then route
// insertion order within a router."
type Mux struct {
	routers []*Router
}

// NewMux returns an empty router composition.
func NewMux() *Mux { return &Mux{} }

// Mount appends router to the composition.
func (m *Mux) Mount(r *Router) { m.routers = append(m.routers, r) }

// Resolve tries each mounted router in insertion order, returning the first
// match, or (nil, nil, false) if nothing matches.
func (m *Mux) Resolve(method, path string) (Handler, map[string]string, bool) {
	for _, r := range m.routers {
		if h, params := r.Resolve(method, path); h != nil {
			return h, params, true
		}
	}
	return nil, nil, false
}

// DuplicateRoutes reports every (method, canonical path) pair registered
// more than once across all mounted routers, in the form "METHOD path",
// for a startup-time diagnostic log per spec §4.6 ("duplicate pairs are
// detected at startup and logged"). Resolution itself is unaffected:
// first-match-wins regardless of duplicates.
func (m *Mux) DuplicateRoutes() []string {
	seen := make(map[string]int)
	var order []string
	for _, r := range m.routers {
		for _, route := range r.Routes() {
			key := fmt.Sprintf("%s %s", route.Method, route.Template)
			if seen[key] == 0 {
				order = append(order, key)
			}
			seen[key]++
		}
	}
	var dupes []string
	for _, key := range order {
		if seen[key] > 1 {
			dupes = append(dupes, key)
		}
	}
	return dupes
}
