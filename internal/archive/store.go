package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	archiveExt = ".zip"
	partialExt = ".zip.partial"
)

// ErrArchiveNotFound is returned for unknown, malformed or expired batch ids.
var ErrArchiveNotFound = errors.New("archive not found")

// Store maps batch identifiers to archive files in one directory.
type Store struct {
	dir    string
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates dir if needed. A ttl of zero keeps archives forever.
func NewStore(dir string, ttl time.Duration, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("archive directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: dir, ttl: ttl, logger: logger, now: time.Now}, nil
}

// Dir returns the archive directory.
func (s *Store) Dir() string {
	return s.dir
}

// TTL returns the retention period.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Path returns the finalized archive for batchID.
func (s *Store) Path(batchID string) (string, error) {
	if err := validateID(batchID); err != nil {
		return "", ErrArchiveNotFound
	}
	p := s.finalPath(batchID)
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrArchiveNotFound
		}
		return "", err
	}
	if s.expired(info.ModTime()) {
		return "", ErrArchiveNotFound
	}
	return p, nil
}

// Purge removes expired archives and partial files older than the TTL.
// It returns the number of files removed.
func (s *Store) Purge() (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read archive directory: %w", err)
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, archiveExt) || strings.HasSuffix(name, partialExt)) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !s.expired(info.ModTime()) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		removed++
		s.logger.Debug("archive purged", zap.String("file", name))
	}
	if removed > 0 {
		s.logger.Info("purged expired archives", zap.Int("removed", removed))
	}
	return removed, errors.Join(errs...)
}

func (s *Store) expired(mod time.Time) bool {
	return s.ttl > 0 && s.now().Sub(mod) > s.ttl
}

func (s *Store) finalPath(id string) string {
	return filepath.Join(s.dir, id+archiveExt)
}

func (s *Store) partialPath(id string) string {
	return filepath.Join(s.dir, id+partialExt)
}

// NewBatchID returns a fresh batch identifier.
func NewBatchID() string {
	return uuid.NewString()
}

// validateID accepts only canonical UUID strings, which also rules out path
// traversal through the identifier.
func validateID(id string) error {
	u, err := uuid.Parse(id)
	if err != nil || u.String() != id {
		return fmt.Errorf("invalid batch id %q", id)
	}
	return nil
}
