package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a slog.Handler that keeps what it receives.
type recorder struct {
	mu     sync.Mutex
	level  slog.Level
	msgs   []string
	attrs  []slog.Attr
	groups []string
	err    error
}

func (r *recorder) Enabled(_ context.Context, l slog.Level) bool { return l >= r.level }

func (r *recorder) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, rec.Message)
	return r.err
}

func (r *recorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recorder{level: r.level, attrs: append(append([]slog.Attr{}, r.attrs...), attrs...), groups: r.groups}
}

func (r *recorder) WithGroup(name string) slog.Handler {
	return &recorder{level: r.level, attrs: r.attrs, groups: append(append([]string{}, r.groups...), name)}
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

// decodeLines parses newline separated JSON records.
func decodeLines(t *testing.T, data string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(data), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		out = append(out, rec)
	}
	return out
}

func keepDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestTeeHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("routes by level", func(t *testing.T) {
		info := &recorder{level: slog.LevelInfo}
		errOnly := &recorder{level: slog.LevelError}
		tee := teeHandler{info, errOnly}

		assert.True(t, tee.Enabled(ctx, slog.LevelInfo))
		assert.False(t, tee.Enabled(ctx, slog.LevelDebug))

		require.NoError(t, tee.Handle(ctx, slog.NewRecord(time.Now(), slog.LevelInfo, "run appended", 0)))
		require.NoError(t, tee.Handle(ctx, slog.NewRecord(time.Now(), slog.LevelError, "store unreachable", 0)))

		assert.Equal(t, []string{"run appended", "store unreachable"}, info.messages())
		assert.Equal(t, []string{"store unreachable"}, errOnly.messages())
	})

	t.Run("joins handler errors", func(t *testing.T) {
		boom := errors.New("disk full")
		tee := teeHandler{&recorder{err: boom}, &recorder{}}
		err := tee.Handle(ctx, slog.NewRecord(time.Now(), slog.LevelInfo, "x", 0))
		assert.ErrorIs(t, err, boom)
	})

	t.Run("attrs and groups reach every sink", func(t *testing.T) {
		tee := teeHandler{&recorder{}, &recorder{}}
		derived := tee.WithAttrs([]slog.Attr{slog.String("series", "go")}).WithGroup("ingest")

		got, ok := derived.(teeHandler)
		require.True(t, ok)
		require.Len(t, got, 2)
		for _, h := range got {
			rec := h.(*recorder)
			assert.Equal(t, "go", rec.attrs[0].Value.String())
			assert.Equal(t, []string{"ingest"}, rec.groups)
		}
		assert.Empty(t, tee[0].(*recorder).attrs, "original handler must not change")
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("info level hides debug", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(LoggerOptions{Writer: &buf})
		logger.Debug("baseline selected")
		logger.Info("verdict", "name", "BM_Find", "ratio", 1.25)

		recs := decodeLines(t, buf.String())
		require.Len(t, recs, 1)
		assert.Equal(t, "verdict", recs[0]["msg"])
		assert.Equal(t, "BM_Find", recs[0]["name"])
	})

	t.Run("debug", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogger(LoggerOptions{Writer: &buf, Debug: true}).Debug("baseline selected")
		assert.Contains(t, buf.String(), `"level":"DEBUG"`)
	})

	t.Run("file and writer both receive records", func(t *testing.T) {
		var buf bytes.Buffer
		path := filepath.Join(t.TempDir(), "bench.log")
		NewLogger(LoggerOptions{Writer: &buf, File: path}).Warn("regression", "series", "go")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, decodeLines(t, buf.String()), decodeLines(t, string(data)))
	})

	t.Run("file only", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bench.log")
		NewLogger(LoggerOptions{File: path}).Info("stored")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "stored")
	})

	t.Run("nothing configured", func(t *testing.T) {
		logger := NewLogger(LoggerOptions{})
		require.NotNil(t, logger)
		assert.NotPanics(t, func() { logger.Error("dropped") })
	})

	t.Run("unopenable file is reported", func(t *testing.T) {
		keepDefault(t)
		var buf bytes.Buffer
		slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))

		bad := filepath.Join(t.TempDir(), "missing", "bench.log")
		logger := NewLogger(LoggerOptions{File: bad})
		require.NotNil(t, logger)

		recs := decodeLines(t, buf.String())
		require.Len(t, recs, 1)
		assert.Equal(t, "Failed to open log file", recs[0]["msg"])
		assert.Equal(t, bad, recs[0]["path"])
	})
}

func TestHelpers(t *testing.T) {
	keepDefault(t)
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	LogDebug("not shown")
	LogInfof("exported %d series to %s", 2, "data.js")
	LogInfo("ingestion finished", "series", "go")
	LogWarn("regression", "name", "BM_Find")
	LogError("push failed", errors.New("connection refused"), "gateway", "http://pg:9091")

	recs := decodeLines(t, buf.String())
	require.Len(t, recs, 4)

	assert.Equal(t, "exported 2 series to data.js", recs[0]["msg"])
	assert.Equal(t, "INFO", recs[0]["level"])

	assert.Equal(t, "ingestion finished", recs[1]["msg"])
	assert.Equal(t, "go", recs[1]["series"])

	assert.Equal(t, "WARN", recs[2]["level"])
	assert.Equal(t, "BM_Find", recs[2]["name"])

	assert.Equal(t, "ERROR", recs[3]["level"])
	assert.Equal(t, "connection refused", recs[3]["error"])
	assert.Equal(t, "http://pg:9091", recs[3]["gateway"])
}
