package httpapi

import (
	"errors"
	"net/http"

	"github.com/ironsheep/layersmith/internal/archive"
	"github.com/ironsheep/layersmith/internal/layers"
	"github.com/ironsheep/layersmith/internal/pipeline"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// BatchData is the public view of a pipeline.Result.
type BatchData struct {
	BatchID    string               `json:"batch_id"`
	Status     pipeline.Status      `json:"status"`
	Successes  []archive.ImageEntry `json:"successes"`
	Failures   []pipeline.Failure   `json:"failures"`
	ArchiveURL string               `json:"archive_url,omitempty"`
}

// BatchResponse wraps BatchData.
type BatchResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Data    *BatchData `json:"data,omitempty"`
}

func archiveURL(batchID string) string {
	return "/api/v1/batches/" + batchID + "/archive"
}

func batchData(res *pipeline.Result) *BatchData {
	d := &BatchData{
		BatchID:   res.BatchID,
		Status:    res.Status,
		Successes: res.Successes,
		Failures:  res.Failures,
	}
	// summaries loaded from the registry carry no local path
	if res.Status != pipeline.StatusFailed {
		d.ArchiveURL = archiveURL(res.BatchID)
	}
	return d
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, layers.ErrInvalidClusterCount), errors.Is(err, pipeline.ErrNoInputs):
		return http.StatusBadRequest
	case errors.Is(err, archive.ErrArchiveNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrAllItemsFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
