// Package sysroutes mounts the operational endpoints SPEC_FULL.md's §6
// supplement calls for (/healthz, /system/descriptors,
// /system/descriptors.html, /system/version, /system/status). These are
// operational surface, not part of the tenant/entity contract, so they are
// mounted directly on the top-level *http.ServeMux rather than going
// through the tenant pipeline's favicon/tenant-resolution/ambient-scope
// machinery.
//
// Adapted from internal/app/httpapi/handler_system.go's
// systemDescriptors/systemDescriptorsHTML handlers.
package sysroutes

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/meridianhq/apprt/internal/system"
)

// Version is set at build time via -ldflags "-X ...sysroutes.Version=...".
var Version = "dev"

// Mount registers the operational endpoints on mux.
func Mount(mux *http.ServeMux, manager *system.Manager) {
	mux.HandleFunc("/healthz", handleHealthz)
	mux.HandleFunc("/system/descriptors", descriptorsHandler(manager))
	mux.HandleFunc("/system/descriptors.html", descriptorsHTMLHandler(manager))
	mux.HandleFunc("/system/version", handleVersion)
	mux.HandleFunc("/system/status", statusHandler(manager))
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

func descriptorsHandler(manager *system.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, manager.Descriptors())
	}
}

func statusHandler(manager *system.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		descriptors := manager.Descriptors()
		names := make([]string, 0, len(descriptors))
		for _, d := range descriptors {
			names = append(names, d.Name)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "running",
			"services": names,
		})
	}
}

func descriptorsHTMLHandler(manager *system.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		descriptors := manager.Descriptors()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<!doctype html><html><head><title>Service Descriptors</title><style>body{font-family:sans-serif;padding:16px;} table{border-collapse:collapse;width:100%;} th,td{border:1px solid #ddd;padding:8px;} th{text-align:left;background:#f5f5f5;}</style></head><body>"))
		_, _ = w.Write([]byte("<h2>Registered Services</h2><table><tr><th>Name</th><th>Domain</th><th>Layer</th><th>Capabilities</th></tr>"))
		for _, d := range descriptors {
			_, _ = w.Write([]byte("<tr><td>" + templateEscape(d.Name) + "</td><td>" + templateEscape(d.Domain) + "</td><td>" + templateEscape(string(d.Layer)) + "</td><td>" + templateEscape(strings.Join(d.Capabilities, ", ")) + "</td></tr>"))
		}
		_, _ = w.Write([]byte("</table></body></html>"))
	}
}

func templateEscape(value string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&#39;",
	)
	return replacer.Replace(value)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
