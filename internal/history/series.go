package history

import (
	"encoding/json"
	"fmt"

	"benchtrack/internal/benchmark"
)

// Entry is a stored run together with the bytes it was persisted as.
type Entry struct {
	Run benchmark.Run
	Raw json.RawMessage
}

// Series is the ordered, append-only history of one tool. A Series value is
// never modified in place; appending yields a new Series.
type Series struct {
	tool    string
	entries []Entry
}

// NewSeries builds a series from runs, marshaling each one.
func NewSeries(tool string, runs ...benchmark.Run) (Series, error) {
	s := Series{tool: tool}
	for _, run := range runs {
		raw, err := marshalNoEscape(run)
		if err != nil {
			return Series{}, fmt.Errorf("failed to marshal run %s: %w", run.Commit.ID, err)
		}
		s.entries = append(s.entries, Entry{Run: run, Raw: raw})
	}
	return s, nil
}

func (s Series) Tool() string { return s.tool }

func (s Series) Len() int { return len(s.entries) }

// Run returns the i-th run in storage order.
func (s Series) Run(i int) benchmark.Run { return s.entries[i].Run }

// Raw returns a copy of the bytes the i-th run is stored as.
func (s Series) Raw(i int) json.RawMessage {
	return append(json.RawMessage(nil), s.entries[i].Raw...)
}

// Runs returns all runs in storage order.
func (s Series) Runs() []benchmark.Run {
	runs := make([]benchmark.Run, len(s.entries))
	for i, e := range s.entries {
		runs[i] = e.Run
	}
	return runs
}

// Last returns the most recently appended run.
func (s Series) Last() (benchmark.Run, bool) {
	if len(s.entries) == 0 {
		return benchmark.Run{}, false
	}
	return s.entries[len(s.entries)-1].Run, true
}

// Suffix returns the last n runs.
func (s Series) Suffix(n int) Series {
	if n < 0 {
		n = 0
	}
	if n > len(s.entries) {
		n = len(s.entries)
	}
	return Series{tool: s.tool, entries: s.entries[len(s.entries)-n:]}
}

// Without returns the series minus every run recorded for commitID.
func (s Series) Without(commitID string) Series {
	if !s.HasCommit(commitID) {
		return s
	}
	out := Series{tool: s.tool}
	for _, e := range s.entries {
		if e.Run.Commit.ID != commitID {
			out.entries = append(out.entries, e)
		}
	}
	return out
}

// HasCommit reports whether a run for commitID is already stored.
func (s Series) HasCommit(commitID string) bool {
	for _, e := range s.entries {
		if e.Run.Commit.ID == commitID {
			return true
		}
	}
	return false
}

func (s Series) checkAppend(run benchmark.Run) error {
	if run.Commit.ID == "" {
		return fmt.Errorf("run has no commit id")
	}
	if s.HasCommit(run.Commit.ID) {
		return fmt.Errorf("%w: %s in %q", ErrDuplicateCommit, run.Commit.ID, s.tool)
	}
	if last, ok := s.Last(); ok && run.Date < last.Date {
		return fmt.Errorf("%w: %d < %d", ErrNonMonotonicDate, run.Date, last.Date)
	}
	return nil
}

// append returns a new series ending with e. The backing array is copied so
// that earlier Series values keep their length and contents.
func (s Series) append(e Entry) Series {
	entries := make([]Entry, len(s.entries), len(s.entries)+1)
	copy(entries, s.entries)
	return Series{tool: s.tool, entries: append(entries, e)}
}
