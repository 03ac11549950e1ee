//go:build !integration

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cholette-research/tract-cli/internal/model"
	"github.com/cholette-research/tract-cli/internal/store"
)

func newServeStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRouterHealth(t *testing.T) {
	router := newRouter(newServeStore(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestRouterRunNotFound(t *testing.T) {
	router := newRouter(newServeStore(t))

	req := httptest.NewRequest(http.MethodGet, "/api/runs/no-such-run", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouterRunLifecycle(t *testing.T) {
	st := newServeStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "mobility")
	require.NoError(t, err)
	require.NoError(t, st.SaveClassifications(ctx, run.ID, []model.Classification{
		{GEOID: "06001400100", Scheme: "mobility", Label: "Full Access", Matched: "full_access"},
	}))
	require.NoError(t, st.CompleteRun(ctx, run.ID, 1))

	router := newRouter(st)

	req := httptest.NewRequest(http.MethodGet, "/api/runs?status=complete", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var runs []model.AnalysisRun
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	req = httptest.NewRequest(http.MethodGet, "/api/runs/"+run.ID+"/classifications", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var cls []model.Classification
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cls))
	require.Len(t, cls, 1)
	assert.Equal(t, "Full Access", cls[0].Label)
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/runs?limit=7&offset=bad", nil)
	assert.Equal(t, 7, queryInt(req, "limit", 50))
	assert.Equal(t, 0, queryInt(req, "offset", 0))
	assert.Equal(t, 50, queryInt(req, "missing", 50))
}
