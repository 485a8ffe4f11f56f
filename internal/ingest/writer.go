package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"benchtrack/internal/benchmark"
	"benchtrack/internal/history"
)

// DefaultWriteTimeout bounds a single append.
const DefaultWriteTimeout = 30 * time.Second

// WriteError is returned when persisting a run fails for a reason other than
// a lost race or a duplicate commit.
type WriteError struct {
	Tool string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write history for %q: %v", e.Tool, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Writer appends runs to a store under a deadline.
type Writer struct {
	Store   history.Store
	Timeout time.Duration
}

// NewWriter returns a writer for store. A non-positive timeout selects
// DefaultWriteTimeout.
func NewWriter(store history.Store, timeout time.Duration) *Writer {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &Writer{Store: store, Timeout: timeout}
}

// Commit appends run to tool's series if the store is still at version and
// returns the new version. ErrConcurrentModification and ErrDuplicateCommit
// are returned as-is.
func (w *Writer) Commit(ctx context.Context, tool string, run benchmark.Run, version history.Version) (history.Version, error) {
	ctx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	v, err := w.Store.Append(ctx, tool, run, version)
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, history.ErrConcurrentModification), errors.Is(err, history.ErrDuplicateCommit):
		return "", err
	default:
		return "", &WriteError{Tool: tool, Err: err}
	}
}
