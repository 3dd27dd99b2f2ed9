// Package runner drives a bounded pool of workers over an NDJSON record
// stream. Fetch latency dominates wall-clock time, so records are processed
// concurrently; output order is not guaranteed to match input order.
package runner

import (
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/atomicdiff/prsplit/pkg/log"
	"github.com/atomicdiff/prsplit/pkg/split"
	"github.com/atomicdiff/prsplit/pkg/stream"
)

// Processor splits one raw record.
type Processor interface {
	Process(ctx context.Context, rec split.RawRecord) (*split.SplitResult, split.SkipReason)
}

// Stats summarizes one run.
type Stats struct {
	Read    int
	Emitted int
	Skipped map[split.SkipReason]int
}

// Runner processes records end-to-end with a fixed number of workers.
type Runner struct {
	logger  *log.Logger
	proc    Processor
	workers int
	mu      sync.Mutex // guards the writer and stats during a run
}

// New creates a runner.
func New(logger *log.Logger, proc Processor, workers int) (*Runner, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if proc == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", workers)
	}
	return &Runner{logger: logger, proc: proc, workers: workers}, nil
}

// Run streams records from in, processes them concurrently and writes the
// surviving results to out. Cancellation is honored between records; a record
// that produces no result is counted and dropped, never written. Only input
// read and output write failures abort the run.
func (r *Runner) Run(ctx context.Context, in io.Reader, out io.Writer) (Stats, error) {
	reader := stream.NewReader(in)
	writer := stream.NewWriter(out)
	stats := Stats{Skipped: make(map[split.SkipReason]int)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		default:
		}

		rec, ok, err := reader.Next()
		if err != nil {
			g.Wait()
			return stats, err
		}
		if !ok {
			break
		}

		r.mu.Lock()
		stats.Read++
		r.mu.Unlock()

		g.Go(func() error {
			res, skip := r.proc.Process(gctx, rec)

			r.mu.Lock()
			defer r.mu.Unlock()
			if res == nil {
				stats.Skipped[skip]++
				return nil
			}
			if err := writer.Write(res); err != nil {
				return err
			}
			stats.Emitted++
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stats, err
	}
	if err := writer.Flush(); err != nil {
		return stats, err
	}
	if err := ctx.Err(); err != nil {
		r.logger.Warning("Run cancelled after %d records", stats.Read)
		return stats, err
	}

	skipped := stats.Read - stats.Emitted
	r.logger.Success("Processed %d records: %d emitted, %d skipped", stats.Read, stats.Emitted, skipped)
	for reason, n := range stats.Skipped {
		r.logger.Debug("  skipped %s: %d", reason, n)
	}
	return stats, nil
}
