package ingestion

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	httperr "github.com/preethamsamatham/medallion/internal/core/errors"
	"github.com/preethamsamatham/medallion/internal/core/model"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgLoadFailed     = "Failed to load records"
)

// loadRequest is the bronze batch envelope. SourceFile is provenance only —
// it is stamped onto every record in the batch.
type loadRequest struct {
	SourceFile string              `json:"source_file"`
	Records    []model.RawEmployee `json:"records"`
}

// ingestionError carries the structured HTTP error shape from a helper back
// to the handler. Helpers return this instead of writing to gin.Context
// directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// LoadHandler handles HTTP POST requests for bronze batch loads.
func (s *Service) LoadHandler(c *gin.Context) {
	req, payloadSize, err := s.parseBatch(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := validateBatch(req.Records); err != nil {
		writeError(c, err)
		return
	}

	loadedAt := time.Now().UTC()
	for i := range req.Records {
		req.Records[i].LoadedAt = loadedAt
		req.Records[i].SourceFile = req.SourceFile
	}

	slog.Info("[Ingestion] Received bronze batch",
		"record_count", len(req.Records),
		"source_file", req.SourceFile,
		"payload_size", payloadSize)

	inserted, updated, loadErr := s.store.LoadBatch(c.Request.Context(), req.Records)
	if loadErr != nil {
		slog.Error("[Ingestion] Failed to load bronze batch", "error", loadErr)
		writeError(c, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgLoadFailed,
		})
		return
	}

	// Rows are committed together with their change-log entries; the
	// scheduler picks them up on its next feed probe.
	c.JSON(http.StatusAccepted, gin.H{
		"status":   "accepted",
		"inserted": inserted,
		"updated":  updated,
	})
}

// DeleteHandler removes all bronze rows for one employee number and records
// the deletion on the change feed so silver drops the key too.
func (s *Service) DeleteHandler(c *gin.Context) {
	employeeNumber, err := strconv.ParseInt(c.Param("employee_number"), 10, 64)
	if err != nil {
		writeError(c, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    "employee_number must be an integer",
		})
		return
	}

	removed, delErr := s.store.DeleteByKey(c.Request.Context(), employeeNumber)
	if delErr != nil {
		slog.Error("[Ingestion] Failed to delete bronze rows",
			"employee_number", employeeNumber, "error", delErr)
		writeError(c, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    "Failed to delete record",
		})
		return
	}

	slog.Info("[Ingestion] Deleted bronze rows",
		"employee_number", employeeNumber, "rows_removed", removed)
	c.JSON(http.StatusOK, gin.H{
		"status":       "deleted",
		"rows_removed": removed,
	})
}

// parseBatch reads the raw request body and binds it into a loadRequest.
// Returns the parsed batch and the raw payload size (used for structured
// logging upstream).
func (s *Service) parseBatch(c *gin.Context) (*loadRequest, int, *ingestionError) {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("[Ingestion] Failed to read request body", "error", err)
		return nil, 0, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("[Ingestion] Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var req loadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Warn("[Ingestion] Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}
	if len(req.Records) == 0 {
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    "records must not be empty",
		}
	}

	return &req, len(bodyBytes), nil
}

// validateBatch rejects the whole batch on the first invalid record. Bronze
// is permissive about keys and survey blobs, but structurally broken records
// (no department, impossible age) never land.
func validateBatch(records []model.RawEmployee) *ingestionError {
	for i := range records {
		if err := records[i].Validate(); err != nil {
			slog.Warn("[Ingestion] Record validation failed", "index", i, "error", err)
			return &ingestionError{
				statusCode: http.StatusBadRequest,
				errorType:  httperr.HttpValidationError,
				message:    fmt.Sprintf("record %d: %v", i, err),
				details: map[string]interface{}{
					"record_index": i,
				},
			}
		}
	}
	return nil
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
