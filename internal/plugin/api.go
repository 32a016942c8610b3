// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package plugin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/leafkit/leaf/internal/errs"
)

// RouteGroupName names the admin routes in logs and metrics.
const RouteGroupName = "plugins"

// Routes is the HTTP admin surface of a Manager:
//
//	GET  /              list plugins and the last scan report
//	GET  /{name}        describe one plugin
//	POST /{name}/start  start a loaded or stopped plugin
//	POST /{name}/stop   stop a plugin
//	POST /{name}/reload reload a plugin
type Routes struct {
	manager  *Manager
	registry *errs.Registry
	timeout  time.Duration
}

// NewRoutes builds the admin routes. registry describes error kinds in
// responses and may be nil.
func NewRoutes(m *Manager, registry *errs.Registry) *Routes {
	return &Routes{manager: m, registry: registry, timeout: 30 * time.Second}
}

// Name implements the server route group contract.
func (rt *Routes) Name() string { return RouteGroupName }

// Mount implements the server route group contract.
func (rt *Routes) Mount(r *mux.Router) {
	r.HandleFunc("/", rt.list).Methods(http.MethodGet)
	r.HandleFunc("/{name}", rt.get).Methods(http.MethodGet)
	r.HandleFunc("/{name}/start", rt.action(rt.manager.Start)).Methods(http.MethodPost)
	r.HandleFunc("/{name}/stop", rt.action(rt.manager.Stop)).Methods(http.MethodPost)
	r.HandleFunc("/{name}/reload", rt.action(rt.manager.Reload)).Methods(http.MethodPost)
}

type listResponse struct {
	Source  string `json:"source"`
	Plugins []Info `json:"plugins"`
	Report  Report `json:"report"`
}

type errorBody struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func (rt *Routes) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, listResponse{
		Source:  rt.manager.Source().String(),
		Plugins: rt.manager.List(),
		Report:  rt.manager.LastReport(),
	})
}

func (rt *Routes) get(w http.ResponseWriter, r *http.Request) {
	info, err := rt.manager.Get(mux.Vars(r)["name"])
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (rt *Routes) action(op func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		ctx, cancel := context.WithTimeout(r.Context(), rt.timeout)
		defer cancel()

		if err := op(ctx, name); err != nil {
			rt.writeError(w, err)
			return
		}
		info, err := rt.manager.Get(name)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

func (rt *Routes) writeError(w http.ResponseWriter, err error) {
	code := errs.CodeOf(err)
	if code == "" {
		code = errs.CodeUnknown
	}
	body := errorBody{Code: code, Message: err.Error()}
	if rt.registry != nil {
		kind, _ := rt.registry.Lookup(code)
		body.Description = kind.Description
	}

	status := http.StatusInternalServerError
	if KindNotFound.Is(err) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(v)
}
