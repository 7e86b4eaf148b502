package etl

import (
	"context"
	"fmt"
	"time"

	"composer/internal/domain"
	"composer/internal/engine"
	"composer/internal/jsonvalue"
	"composer/internal/relation"
	"composer/internal/schema"
)

// ── Job ────────────────────────────────────────────────────
// Orchestrates: source.Read → filter chain → join + compose → render → destination.

// Job holds the configuration of one composition run.
type Job struct {
	ID      string              `json:"id" yaml:"id"`
	Name    string              `json:"name" yaml:"name"`
	Sources []domain.DataSource `json:"sources" yaml:"sources"`
	Format  schema.Format       `json:"format" yaml:"format"`
	Target  string              `json:"target" yaml:"target"` // destination-specific name, e.g. a file name
}

// Status of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is the outcome of running a job.
type Result struct {
	JobID        string         `json:"jobId"`
	Status       Status         `json:"status"`
	RecordsRead  map[string]int `json:"recordsRead"`
	RecordsKept  map[string]int `json:"recordsKept"`
	BytesWritten int            `json:"bytesWritten"`
	Duration     time.Duration  `json:"duration"`
	Error        string         `json:"error,omitempty"`
}

// ── Runner ─────────────────────────────────────────────────

// Runner executes jobs with the registered sources, an engine, and a destination.
type Runner struct {
	Engine *engine.Engine
	Dest   Destination
}

// Run executes a job end-to-end. Every source is read in full; a source
// failure fails the run.
func (r *Runner) Run(ctx context.Context, job *Job) (*Result, error) {
	start := time.Now()
	result := &Result{JobID: job.ID, RecordsRead: map[string]int{}, RecordsKept: map[string]int{}}
	fail := func(stage string, err error) (*Result, error) {
		err = fmt.Errorf("%s: %w", stage, err)
		result.Status = StatusError
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result, err
	}

	batches, err := r.Read(ctx, job.Sources, result)
	if err != nil {
		return fail("read", err)
	}

	doc, err := r.Engine.Evaluate(batches)
	if err != nil {
		return fail("evaluate", err)
	}

	format := job.Format
	if format == "" {
		format = schema.FormatJSON
	}
	data, err := engine.Render(format, r.Engine.Mapper().Config().Schema(), doc)
	if err != nil {
		return fail("render", err)
	}

	if r.Dest != nil {
		n, err := r.Dest.Write(ctx, job.Target, data)
		if err != nil {
			return fail("write", err)
		}
		result.BytesWritten = n
	}

	result.Status = StatusSuccess
	result.Duration = time.Since(start)
	return result, nil
}

// Read fetches and filters every source into one batch per source. result
// may be nil.
func (r *Runner) Read(ctx context.Context, sources []domain.DataSource, result *Result) ([]relation.Batch, error) {
	batches := make([]relation.Batch, 0, len(sources))
	for _, ds := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		filters, err := BuildFilters(ds.Filters)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ds.ID, err)
		}
		records, err := r.collect(ctx, ds)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ds.ID, err)
		}
		kept := ApplyFilters(records, filters)
		if result != nil {
			result.RecordsRead[ds.ID] = len(records)
			result.RecordsKept[ds.ID] = len(kept)
		}
		batches = append(batches, relation.Batch{SourceID: ds.ID, Records: kept})
	}
	return batches, nil
}

// collect reads every record of ds. A source without a type stands for its
// inline sample document.
func (r *Runner) collect(ctx context.Context, ds domain.DataSource) ([]jsonvalue.Value, error) {
	if ds.Type == "" {
		if ds.SampleDocument.IsUndefined() {
			return nil, fmt.Errorf("no type and no sample document")
		}
		if ds.SampleDocument.Kind() == jsonvalue.Array {
			return ds.SampleDocument.Items(), nil
		}
		return []jsonvalue.Value{ds.SampleDocument}, nil
	}
	src, err := GetSource(string(ds.Type))
	if err != nil {
		return nil, err
	}
	cfg := SourceConfig(ds.Config)
	if err := src.Spec().Validate(cfg); err != nil {
		return nil, err
	}
	return Collect(ctx, src, cfg, 0)
}
