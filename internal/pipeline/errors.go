package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrAllItemsFailed is returned, together with the Result, when no image of a
	// batch succeeded.
	ErrAllItemsFailed = errors.New("all items failed")

	// ErrNoInputs is returned for an empty batch.
	ErrNoInputs = errors.New("no images in batch")

	// ErrQueueFull is returned when a limiter slot could not be acquired in time.
	ErrQueueFull = errors.New("processing queue is full, try again later")

	// ErrNoRegions marks an image whose regions all vanished in segmentation or
	// classification.
	ErrNoRegions = errors.New("no regions")

	// ErrNoLayers marks an image left without layers after annotation.
	ErrNoLayers = errors.New("no layers")

	// ErrSessionClosed is returned when images are added to a closed session.
	ErrSessionClosed = errors.New("session closed")
)

// StageError is a per-image failure tagged with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the stage recorded in err, or StagePending.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return StagePending
}
