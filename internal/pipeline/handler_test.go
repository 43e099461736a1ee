package pipeline

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/preethamsamatham/medallion/internal/gold"
	"github.com/preethamsamatham/medallion/internal/silver"
	"github.com/stretchr/testify/require"
)

func newTestAPI(loader *fakeLoader, mat *fakeMaterializer, audit *memoryAuditStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	runner := newTestRunner(loader, mat, &fakeChecker{}, audit)
	api := NewAPI(runner, &stubGoldStore{}, audit)

	r := gin.New()
	api.RegisterRoutes(r)
	return r
}

func TestAPI_LoadStaging(t *testing.T) {
	t.Run("returns the stage result with the supplied run id", func(t *testing.T) {
		loader := &fakeLoader{result: silver.LoadResult{EventsConsumed: 3, RowsAffected: 3}}
		r := newTestAPI(loader, &fakeMaterializer{}, &memoryAuditStore{})

		req := httptest.NewRequest(http.MethodPost, "/v1/pipeline/load-staging",
			strings.NewReader(`{"run_id": "manual-run-7"}`))
		req.Header.Set("Content-Type", "application/json")
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)

		require.Equal(t, http.StatusOK, resp.Code)

		var result stageResponse
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
		require.Equal(t, "manual-run-7", result.RunID)
		require.Equal(t, "load_staging", result.Stage)
		require.Equal(t, "SUCCESS", result.Status)
		require.Equal(t, int64(3), result.RowsAffected)
		require.Empty(t, result.Error)
	})

	t.Run("missing body generates a run id", func(t *testing.T) {
		loader := &fakeLoader{}
		r := newTestAPI(loader, &fakeMaterializer{}, &memoryAuditStore{})

		req := httptest.NewRequest(http.MethodPost, "/v1/pipeline/load-staging", nil)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)

		require.Equal(t, http.StatusOK, resp.Code)

		var result stageResponse
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
		require.NotEmpty(t, result.RunID)
	})

	t.Run("stage failure maps to 500 with the error on the result", func(t *testing.T) {
		loader := &fakeLoader{err: errors.New("poll change feed: connection refused")}
		r := newTestAPI(loader, &fakeMaterializer{}, &memoryAuditStore{})

		req := httptest.NewRequest(http.MethodPost, "/v1/pipeline/load-staging", nil)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)

		require.Equal(t, http.StatusInternalServerError, resp.Code)

		var result stageResponse
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
		require.Equal(t, "FAILED", result.Status)
		require.Contains(t, result.Error, "connection refused")
	})
}

func TestAPI_RunPipeline(t *testing.T) {
	t.Run("reports both chained stages", func(t *testing.T) {
		loader := &fakeLoader{result: silver.LoadResult{EventsConsumed: 1, RowsAffected: 1}}
		mat := &fakeMaterializer{stats: gold.RebuildStats{StagedRows: 1, Departments: 1}}
		r := newTestAPI(loader, mat, &memoryAuditStore{})

		req := httptest.NewRequest(http.MethodPost, "/v1/pipeline/run", nil)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)

		require.Equal(t, http.StatusOK, resp.Code)

		var result struct {
			Stages []stageResponse `json:"stages"`
		}
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
		require.Len(t, result.Stages, 2)
		require.Equal(t, "load_staging", result.Stages[0].Stage)
		require.Equal(t, "materialize_aggregates", result.Stages[1].Stage)
	})

	t.Run("silver failure yields one stage and 500", func(t *testing.T) {
		loader := &fakeLoader{err: errors.New("apply changeset: deadlock detected")}
		r := newTestAPI(loader, &fakeMaterializer{}, &memoryAuditStore{})

		req := httptest.NewRequest(http.MethodPost, "/v1/pipeline/run", nil)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)

		require.Equal(t, http.StatusInternalServerError, resp.Code)

		var result struct {
			Stages []stageResponse `json:"stages"`
		}
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
		require.Len(t, result.Stages, 1)
		require.Equal(t, "FAILED", result.Stages[0].Status)
	})
}

func TestAPI_RunLog(t *testing.T) {
	audit := &memoryAuditStore{}
	loader := &fakeLoader{result: silver.LoadResult{EventsConsumed: 1, RowsAffected: 1}}
	r := newTestAPI(loader, &fakeMaterializer{}, audit)

	// Produce some log records first.
	req := httptest.NewRequest(http.MethodPost, "/v1/pipeline/load-staging",
		strings.NewReader(`{"run_id": "run-log-test"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/v1/pipeline/runs/run-log-test", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)

	var result struct {
		RunID   string `json:"run_id"`
		Entries []struct {
			Stage  string `json:"stage"`
			Status string `json:"status"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Equal(t, "run-log-test", result.RunID)
	require.Len(t, result.Entries, 2)
	require.Equal(t, "STARTED", result.Entries[0].Status)
	require.Equal(t, "SUCCESS", result.Entries[1].Status)
}

func TestAPI_QualityChecks(t *testing.T) {
	r := newTestAPI(&fakeLoader{}, &fakeMaterializer{}, &memoryAuditStore{})

	req := httptest.NewRequest(http.MethodPost, "/v1/pipeline/quality-checks", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)

	var result stageResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Equal(t, "run_quality_checks", result.Stage)
	require.Equal(t, "SUCCESS", result.Status)
}
