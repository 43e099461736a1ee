package pipeline

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	httperr "github.com/preethamsamatham/medallion/internal/core/errors"
	"github.com/preethamsamatham/medallion/internal/core/model"
	"github.com/preethamsamatham/medallion/internal/core/storage"
)

// API exposes the stage invocation surface plus read endpoints for the gold
// aggregates, run logs, and quality results.
type API struct {
	runner *Runner
	gold   storage.GoldStore
	audit  storage.AuditStore
}

// NewAPI creates the pipeline HTTP surface.
func NewAPI(runner *Runner, goldStore storage.GoldStore, audit storage.AuditStore) *API {
	if runner == nil {
		panic("pipeline: runner must not be nil")
	}
	if goldStore == nil {
		panic("pipeline: gold store must not be nil")
	}
	if audit == nil {
		panic("pipeline: audit store must not be nil")
	}
	return &API{runner: runner, gold: goldStore, audit: audit}
}

// RegisterRoutes registers the pipeline API routes.
func (a *API) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/pipeline/load-staging", a.handleLoadStaging)
	r.POST("/v1/pipeline/materialize-aggregates", a.handleMaterialize)
	r.POST("/v1/pipeline/quality-checks", a.handleQualityChecks)
	r.POST("/v1/pipeline/run", a.handleRunPipeline)
	r.GET("/v1/pipeline/runs/:run_id", a.handleRunLog)

	r.GET("/v1/gold/demographics", a.handleDemographics)
	r.GET("/v1/gold/survey-scores", a.handleSurveyScores)

	r.GET("/v1/quality/results", a.handleQualityResults)
}

// runRequest is the optional invocation body: a caller-supplied correlation
// id threaded through every log record the stage produces.
type runRequest struct {
	RunID string `json:"run_id"`
}

// stageResponse is the wire shape of a StageResult.
type stageResponse struct {
	RunID        string `json:"run_id"`
	Stage        string `json:"stage"`
	Status       string `json:"status"`
	RowsAffected int64  `json:"rows_affected"`
	DurationMS   int64  `json:"duration_ms"`
	Message      string `json:"message"`
	Error        string `json:"error,omitempty"`
}

func toStageResponse(r StageResult) stageResponse {
	resp := stageResponse{
		RunID:        r.RunID,
		Stage:        r.Stage,
		Status:       string(r.Status),
		RowsAffected: r.RowsAffected,
		DurationMS:   r.Duration.Milliseconds(),
		Message:      r.Message,
	}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	return resp
}

func bindRunID(c *gin.Context) string {
	var req runRequest
	// Body is optional; a bind failure just means no run_id was supplied.
	if err := c.ShouldBindJSON(&req); err != nil {
		return ""
	}
	return req.RunID
}

func writeStageResult(c *gin.Context, result StageResult) {
	status := http.StatusOK
	if result.Err != nil {
		status = http.StatusInternalServerError
	}
	c.JSON(status, toStageResponse(result))
}

func (a *API) handleLoadStaging(c *gin.Context) {
	result := a.runner.LoadStaging(c.Request.Context(), bindRunID(c))
	writeStageResult(c, result)
}

func (a *API) handleMaterialize(c *gin.Context) {
	result := a.runner.MaterializeAggregates(c.Request.Context(), bindRunID(c))
	writeStageResult(c, result)
}

func (a *API) handleQualityChecks(c *gin.Context) {
	result := a.runner.RunQualityChecks(c.Request.Context(), bindRunID(c))
	writeStageResult(c, result)
}

func (a *API) handleRunPipeline(c *gin.Context) {
	results := a.runner.RunPipeline(c.Request.Context(), bindRunID(c))

	responses := make([]stageResponse, 0, len(results))
	httpStatus := http.StatusOK
	for _, r := range results {
		if r.Err != nil {
			httpStatus = http.StatusInternalServerError
		}
		responses = append(responses, toStageResponse(r))
	}
	c.JSON(httpStatus, gin.H{"stages": responses})
}

func (a *API) handleRunLog(c *gin.Context) {
	runID := c.Param("run_id")

	entries, err := a.audit.RunLogEntries(c.Request.Context(), runID)
	if err != nil {
		slog.Error("[API] Run log query failed", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to query run log",
		})
		return
	}

	type logRow struct {
		RunID        string `json:"run_id"`
		Stage        string `json:"stage"`
		Status       string `json:"status"`
		RowsAffected int64  `json:"rows_affected"`
		DurationMS   int64  `json:"duration_ms"`
		SourceObject string `json:"source_object"`
		TargetObject string `json:"target_object"`
		ErrorMessage string `json:"error_message,omitempty"`
		LoggedAt     string `json:"logged_at"`
	}

	rows := make([]logRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, logRow{
			RunID:        e.RunID,
			Stage:        e.Stage,
			Status:       string(e.Status),
			RowsAffected: e.RowsAffected,
			DurationMS:   e.Duration.Milliseconds(),
			SourceObject: e.SourceObject,
			TargetObject: e.TargetObject,
			ErrorMessage: e.ErrorMessage,
			LoggedAt:     e.LoggedAt.Format(timeFormat),
		})
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "entries": rows})
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func (a *API) handleDemographics(c *gin.Context) {
	results, err := a.gold.QueryDemographics(c.Request.Context(), c.Query("department"))
	if err != nil {
		slog.Error("[API] Demographics query failed", "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to query demographics",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"departments": demographicsRows(results)})
}

func demographicsRows(results []model.DepartmentDemographics) []gin.H {
	rows := make([]gin.H, 0, len(results))
	for _, d := range results {
		rows = append(rows, gin.H{
			"department":   d.Department,
			"headcount":    d.Headcount,
			"avg_age":      d.AvgAge,
			"avg_tenure":   d.AvgTenure,
			"male_count":   d.MaleCount,
			"female_count": d.FemaleCount,
			"other_count":  d.OtherCount,
			"refreshed_at": d.RefreshedAt.Format(timeFormat),
			"etl_run_id":   d.EtlRunID,
		})
	}
	return rows
}

func (a *API) handleSurveyScores(c *gin.Context) {
	results, err := a.gold.QuerySurveyScores(c.Request.Context(), c.Query("department"))
	if err != nil {
		slog.Error("[API] Survey scores query failed", "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to query survey scores",
		})
		return
	}

	rows := make([]gin.H, 0, len(results))
	for _, s := range results {
		rows = append(rows, gin.H{
			"department":            s.Department,
			"num_responses":         s.NumResponses,
			"avg_satisfaction":      s.AvgSatisfaction,
			"avg_work_life_balance": s.AvgWorkLifeBalance,
			"avg_career_growth":     s.AvgCareerGrowth,
			"avg_communication":     s.AvgCommunication,
			"avg_teamwork":          s.AvgTeamwork,
			"refreshed_at":          s.RefreshedAt.Format(timeFormat),
			"etl_run_id":            s.EtlRunID,
		})
	}
	c.JSON(http.StatusOK, gin.H{"departments": rows})
}

func (a *API) handleQualityResults(c *gin.Context) {
	results, err := a.audit.LatestQualityResults(c.Request.Context())
	if err != nil {
		slog.Error("[API] Quality results query failed", "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to query quality results",
		})
		return
	}

	rows := make([]gin.H, 0, len(results))
	for _, r := range results {
		rows = append(rows, gin.H{
			"check_name":     r.CheckName,
			"layer":          r.Layer,
			"table_name":     r.TableName,
			"issue_count":    r.IssueCount,
			"sample_details": r.SampleDetails,
			"etl_run_id":     r.EtlRunID,
			"checked_at":     r.CheckedAt.Format(timeFormat),
		})
	}
	c.JSON(http.StatusOK, gin.H{"results": rows})
}
