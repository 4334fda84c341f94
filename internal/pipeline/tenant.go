package pipeline

import "strings"

// resolveTenant implements the spec's tenant-selection header priority:
// X-Subdomain; else the first label of X-Forwarded-Host; else the first
// label of Host when Host has three or more labels; else defaultTenant.
// The result is normalised to lowercase with '-' replaced by '_', since a
// tenant id maps 1:1 to a database namespace identifier.
func resolveTenant(req *Request, defaultTenant string) string {
	if sub := req.Header("X-Subdomain"); sub != "" {
		return normaliseTenant(sub)
	}
	if fwd := req.Header("X-Forwarded-Host"); fwd != "" {
		return normaliseTenant(firstLabel(fwd))
	}
	if host := req.Header("Host"); host != "" && len(strings.Split(hostOnly(host), ".")) >= 3 {
		return normaliseTenant(firstLabel(host))
	}
	return normaliseTenant(defaultTenant)
}

// hostOnly strips a trailing ":port" from a Host-style header value before
// counting labels, so "a.b.c:8080" is still recognised as three labels.
func hostOnly(host string) string {
	if i := strings.LastIndex(host, ":"); i != -1 {
		return host[:i]
	}
	return host
}

func firstLabel(host string) string {
	label, _, _ := strings.Cut(hostOnly(host), ".")
	return label
}

func normaliseTenant(id string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(id)), "-", "_")
}
