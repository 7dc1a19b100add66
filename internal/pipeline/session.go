package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ironsheep/layersmith/internal/archive"
	"github.com/ironsheep/layersmith/internal/layers"
)

// Session is a batch that receives its images one at a time, as the streaming
// transports do. Add and Close are serialised.
type Session struct {
	o       *Orchestrator
	opts    Options
	batchID string
	handle  *archive.Handle
	started time.Time

	mu        sync.Mutex
	next      int
	closed    bool
	successes []archive.ImageEntry
	failures  []Failure
}

// NewSession opens the archive of a new batch.
func (o *Orchestrator) NewSession(opts Options) (*Session, error) {
	if err := layers.ValidateCount(opts.ClusterCount); err != nil {
		return nil, err
	}
	id := archive.NewBatchID()
	h, err := o.exporter.Begin(id)
	if err != nil {
		return nil, err
	}
	return &Session{
		o:       o,
		opts:    opts,
		batchID: id,
		handle:  h,
		started: time.Now(),
	}, nil
}

// BatchID returns the identifier of the batch.
func (s *Session) BatchID() string {
	return s.batchID
}

// Add processes one image to completion.
//
// A failing image is reported in the returned Item, not as an error. Errors are
// reserved for conditions that end the batch: a closed session, a cancelled ctx
// before the image started, or a broken archive writer. Work on an image that has
// started is not interrupted by cancelling ctx.
func (s *Session) Add(ctx context.Context, in Input) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Item{}, ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}

	id := s.next
	s.next++
	start := time.Now()
	entry, err := s.o.processImage(context.WithoutCancel(ctx), s, id, in)
	if err != nil {
		if errors.Is(err, archive.ErrArchiveWrite) {
			return Item{}, err
		}
		f := newFailure(in.Filename, err)
		s.failures = append(s.failures, f)
		s.o.logger.Warn("image failed",
			zap.String("batch_id", s.batchID),
			zap.String("filename", in.Filename),
			zap.Stringer("stage", f.Stage),
			zap.Bool("resource_exhausted", f.ResourceExhausted),
			zap.Error(err),
		)
		return Item{Filename: in.Filename, Failure: &f}, nil
	}

	s.successes = append(s.successes, *entry)
	s.o.logger.Info("image processed",
		zap.String("batch_id", s.batchID),
		zap.String("filename", in.Filename),
		zap.Int("layers", len(entry.Layers)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return Item{Filename: in.Filename, Entry: entry}, nil
}

// Close ends intake and produces the Result.
//
// With at least one success the archive is finalized. Otherwise it is discarded
// and the Result comes back with ErrAllItemsFailed, or ErrNoInputs when no image
// was processed at all.
func (s *Session) Close(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	s.closed = true

	res := &Result{
		BatchID:   s.batchID,
		Status:    statusOf(len(s.successes), len(s.failures)),
		Successes: s.successes,
		Failures:  s.failures,
	}
	if res.Successes == nil {
		res.Successes = []archive.ImageEntry{}
	}
	if res.Failures == nil {
		res.Failures = []Failure{}
	}

	var outcome error
	if len(s.successes) == 0 {
		if err := s.o.exporter.Abort(s.handle); err != nil {
			s.o.logger.Warn("failed to discard archive", zap.String("batch_id", s.batchID), zap.Error(err))
		}
		outcome = ErrAllItemsFailed
		if len(s.failures) == 0 {
			outcome = ErrNoInputs
		}
	} else {
		p, err := s.o.exporter.Finalize(s.handle)
		if err != nil {
			return nil, err
		}
		res.ArchivePath = p
	}

	if s.o.registry != nil {
		if err := s.o.registry.Save(context.WithoutCancel(ctx), s.batchID, res); err != nil {
			s.o.logger.Warn("failed to store batch summary", zap.String("batch_id", s.batchID), zap.Error(err))
		}
	}

	s.o.logger.Info("batch finished",
		zap.String("batch_id", s.batchID),
		zap.String("status", string(res.Status)),
		zap.Int("successes", len(res.Successes)),
		zap.Int("failures", len(res.Failures)),
		zap.Duration("elapsed", time.Since(s.started)),
	)
	return res, outcome
}

// abort discards the session after a batch-level error.
func (s *Session) abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.o.exporter.Abort(s.handle)
}

// Abort discards the session and its archive.
func (s *Session) Abort() error {
	return s.abort()
}
