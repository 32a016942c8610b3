// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package observability

import (
	"context"
	"net/http"
)

// ReadinessChecker reports whether the process can serve traffic. ctx is
// the probe request's context.
type ReadinessChecker func(ctx context.Context) bool

// LivenessHandler answers 200 while the process is running.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, http.StatusOK, "ok")
	}
}

// ReadinessHandler answers 200 when ready reports true or is nil, and 503
// otherwise.
func ReadinessHandler(ready ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready(r.Context()) {
			writeProbe(w, http.StatusServiceUnavailable, "not ready")
			return
		}
		writeProbe(w, http.StatusOK, "ok")
	}
}

func writeProbe(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body + "\n")) // the prober may already be gone
}
