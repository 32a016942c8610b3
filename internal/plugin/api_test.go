// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package plugin_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafkit/leaf/internal/errs"
	"github.com/leafkit/leaf/internal/plugin"
)

func newAPI(t *testing.T) (*plugin.Manager, http.Handler, *journal) {
	t.Helper()
	j := &journal{}
	c := plugin.NewCatalog()
	register(t, c, builtin("alpha", true), &fakePlugin{j: j})
	register(t, c, builtin("beta", false), &fakePlugin{j: j})
	register(t, c, builtin("gamma", true), &fakePlugin{j: j, initErr: errors.New("no")})

	m, err := plugin.NewManager(c)
	require.NoError(t, err)
	_, err = m.Scan(ctxTimeout(t), true)
	require.NoError(t, err)

	reg := errs.NewRegistry()
	require.NoError(t, reg.RegisterAll(plugin.Kinds()...))

	routes := plugin.NewRoutes(m, reg)
	assert.Equal(t, plugin.RouteGroupName, routes.Name())

	r := mux.NewRouter()
	routes.Mount(r.PathPrefix("/plugins").Subrouter())
	return m, r, j
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestRoutes_List(t *testing.T) {
	_, h, _ := newAPI(t)

	rec := do(t, h, http.MethodGet, "/plugins/")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Source  string        `json:"source"`
		Plugins []plugin.Info `json:"plugins"`
		Report  plugin.Report `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "catalog", body.Source)
	require.Len(t, body.Plugins, 3)
	assert.Equal(t, "alpha", body.Plugins[0].Name)
	assert.Equal(t, plugin.StateRunning, body.Plugins[0].State)
	assert.Equal(t, plugin.StateLoaded, body.Plugins[1].State)
	assert.Equal(t, plugin.StateFailed, body.Plugins[2].State)
	require.Len(t, body.Report.Failures, 1)
	assert.Equal(t, plugin.KindInitError.Code, body.Report.Failures[0].Code)
}

func TestRoutes_GetAndNotFound(t *testing.T) {
	_, h, _ := newAPI(t)

	rec := do(t, h, http.MethodGet, "/plugins/alpha")
	require.Equal(t, http.StatusOK, rec.Code)
	var info plugin.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "alpha", info.Name)

	rec = do(t, h, http.MethodGet, "/plugins/ghost")
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, plugin.KindNotFound.Code, body["error"]["code"])
	assert.Equal(t, plugin.KindNotFound.Description, body["error"]["description"])
}

func TestRoutes_Actions(t *testing.T) {
	m, h, j := newAPI(t)

	rec := do(t, h, http.MethodPost, "/plugins/beta/start")
	require.Equal(t, http.StatusOK, rec.Code)
	info, err := m.Get("beta")
	require.NoError(t, err)
	assert.Equal(t, plugin.StateRunning, info.State)

	rec = do(t, h, http.MethodPost, "/plugins/alpha/stop")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, plugin.StateStopped, info.State)

	rec = do(t, h, http.MethodPost, "/plugins/alpha/reload")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, plugin.StateRunning, info.State)

	rec = do(t, h, http.MethodPost, "/plugins/gamma/start")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(t, h, http.MethodGet, "/plugins/alpha/stop")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	assert.Contains(t, j.list(), "stop:alpha")
}
