package pipeline

import (
	"errors"

	"github.com/ironsheep/layersmith/internal/archive"
	"github.com/ironsheep/layersmith/internal/inference"
)

// Status summarises a batch.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Input is one uploaded image. A non-nil Err marks an upload the transport
// already rejected; it is recorded as a load failure without decoding.
type Input struct {
	Filename string
	Data     []byte
	Err      error
}

// Failure describes why one image was dropped.
type Failure struct {
	Filename          string `json:"filename"`
	Stage             Stage  `json:"stage"`
	Message           string `json:"message"`
	ResourceExhausted bool   `json:"resource_exhausted,omitempty"`
}

func newFailure(filename string, err error) Failure {
	return Failure{
		Filename:          filename,
		Stage:             StageOf(err),
		Message:           err.Error(),
		ResourceExhausted: errors.Is(err, inference.ErrResourceExhausted),
	}
}

// Item is the outcome of one image: exactly one of Entry and Failure is set.
type Item struct {
	Filename string              `json:"filename"`
	Entry    *archive.ImageEntry `json:"entry,omitempty"`
	Failure  *Failure            `json:"failure,omitempty"`
}

// Result is the outcome of a batch. It is not modified after being returned.
type Result struct {
	BatchID     string               `json:"batch_id"`
	Status      Status               `json:"status"`
	Successes   []archive.ImageEntry `json:"successes"`
	Failures    []Failure            `json:"failures"`
	ArchivePath string               `json:"-"`
}

// HasArchive reports whether an archive was produced.
func (r *Result) HasArchive() bool {
	return r != nil && r.ArchivePath != ""
}

func statusOf(successes, failures int) Status {
	switch {
	case successes == 0:
		return StatusFailed
	case failures == 0:
		return StatusSuccess
	default:
		return StatusPartial
	}
}
