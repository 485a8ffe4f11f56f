package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"benchtrack/internal/benchmark"
	"benchtrack/internal/detector"
	"benchtrack/internal/history"
	"benchtrack/internal/metrics"
	"benchtrack/internal/report"

	"github.com/google/uuid"
)

// State is a stage of an ingestion.
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateDetecting State = "detecting"
	StateEmitting  State = "emitting"
	StateAppending State = "appending"
)

// Request describes one benchmark run to ingest.
type Request struct {
	// Tool is the measurement format of Data.
	Tool string
	// Series is the history key; it defaults to Tool.
	Series string
	Data   []byte
	Commit benchmark.Commit
	DryRun bool
}

func (r Request) seriesKey() string {
	if r.Series != "" {
		return r.Series
	}
	return r.Tool
}

// Result is the outcome of a successful ingestion.
type Result struct {
	ID       string
	Run      benchmark.Run
	Verdicts []detector.Verdict
	Report   report.Report
	// Baseline is the number of runs the series held before this one.
	Baseline int
	// Version is the store version after the append, or the loaded one on a dry run.
	Version  history.Version
	Appended bool
}

// Pipeline runs Loading, Detecting, Emitting and Appending for one run. It
// never retries; a lost race surfaces as history.ErrConcurrentModification.
type Pipeline struct {
	Store    history.Store
	Writer   *Writer
	Detector detector.Config
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// OnTransition, when set, is called on every state change.
	OnTransition func(from, to State)
	// Now stamps new runs; it defaults to time.Now.
	Now func() time.Time

	state State
}

// NewPipeline returns a pipeline over store with the default write timeout.
func NewPipeline(store history.Store, cfg detector.Config) *Pipeline {
	return &Pipeline{
		Store:    store,
		Writer:   NewWriter(store, DefaultWriteTimeout),
		Detector: cfg,
		state:    StateIdle,
	}
}

// State returns the current stage.
func (p *Pipeline) State() State {
	if p.state == "" {
		return StateIdle
	}
	return p.state
}

func (p *Pipeline) transition(log *slog.Logger, to State) {
	from := p.State()
	p.state = to
	log.Debug("ingestion state changed", "from", from, "to", to)
	if p.OnTransition != nil {
		p.OnTransition(from, to)
	}
}

// Ingest parses req.Data, compares it with the stored history and, unless
// req.DryRun is set, appends the new run.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	if p.State() != StateIdle {
		return nil, fmt.Errorf("ingestion already in progress (state %s)", p.State())
	}
	if req.Commit.ID == "" {
		return nil, errors.New("commit id is required")
	}

	start := time.Now()
	id := uuid.NewString()
	key := req.seriesKey()
	log := p.logger().With("ingestion_id", id, "series", key, "tool", req.Tool)

	res, err := p.run(ctx, log, id, key, req)
	p.transition(log, StateIdle)

	outcome := metrics.OutcomeError
	switch {
	case err != nil:
		if errors.Is(err, history.ErrConcurrentModification) && p.Metrics != nil {
			p.Metrics.ObserveConflict(key)
		}
	case res.Report.AnyRegression:
		outcome = metrics.OutcomeRegression
	case req.DryRun:
		outcome = metrics.OutcomeDryRun
	default:
		outcome = metrics.OutcomeOK
	}
	if p.Metrics != nil {
		p.Metrics.ObserveIngestion(key, outcome, time.Since(start))
	}

	if err != nil {
		log.Error("ingestion failed", "error", err)
		return nil, err
	}
	log.Info("ingestion finished",
		"outcome", outcome,
		"benchmarks", res.Report.Summary.Total,
		"regressed", res.Report.Summary.Regressed,
		"appended", res.Appended)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, log *slog.Logger, id, key string, req Request) (*Result, error) {
	p.transition(log, StateLoading)
	results, err := benchmark.Parse(req.Tool, req.Data)
	if err != nil {
		return nil, err
	}
	snap, err := p.Store.Load(ctx, key)
	if err != nil && !errors.Is(err, history.ErrNotFound) {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if errors.Is(err, history.ErrNotFound) {
		log.Info("no history yet, starting a new series")
	}
	if snap.Series.HasCommit(req.Commit.ID) {
		return nil, fmt.Errorf("%w: %s", history.ErrDuplicateCommit, req.Commit.ID)
	}

	run := benchmark.Run{
		Commit:  req.Commit,
		Date:    p.stamp(snap.Series),
		Tool:    req.Tool,
		Benches: results,
	}

	p.transition(log, StateDetecting)
	verdicts := detector.Detect(snap.Series, run, p.Detector)

	p.transition(log, StateEmitting)
	rep := report.Emit(verdicts)
	if p.Metrics != nil {
		for _, v := range verdicts {
			p.Metrics.ObserveVerdict(key, string(v.Kind))
		}
	}
	for _, d := range rep.Regressions() {
		log.Warn("performance regression", "name", d.Name, "relative_change", d.RelativeChange)
	}

	res := &Result{
		ID:       id,
		Run:      run,
		Verdicts: verdicts,
		Report:   rep,
		Baseline: snap.Series.Len(),
		Version:  snap.Version,
	}
	if req.DryRun {
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.transition(log, StateAppending)
	writer := p.Writer
	if writer == nil {
		writer = NewWriter(p.Store, DefaultWriteTimeout)
	}
	version, err := writer.Commit(ctx, key, run, snap.Version)
	if err != nil {
		return nil, err
	}
	res.Version = version
	res.Appended = true
	return res, nil
}

// stamp returns the date for a new run: now, but never before the latest
// stored run.
func (p *Pipeline) stamp(series history.Series) int64 {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	date := now().UnixMilli()
	if last, ok := series.Last(); ok && last.Date > date {
		date = last.Date
	}
	return date
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
