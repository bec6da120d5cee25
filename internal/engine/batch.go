package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/granary/granary/internal/model"
)

// DefaultBatchWorkers bounds batch parallelism. The storage layer serializes
// writes anyway, so a small pool is enough to overlap parsing with I/O.
const DefaultBatchWorkers = 4

// BatchOutcome summarizes one document's trip through the pipeline.
type BatchOutcome struct {
	Err         error
	DocID       string
	FileName    string
	Transaction *model.Transaction
}

// BatchSummary aggregates a whole run.
type BatchSummary struct {
	Outcomes  []BatchOutcome
	Auto      int
	Pending   int
	Duplicate int
	Failed    int
	Errors    int
}

// ResolveBatch pushes every extraction result through the pipeline. One
// document's failure never aborts the batch; errors are carried in the
// summary. The onDone callback, if set, fires after each document for
// progress reporting.
func (e *Engine) ResolveBatch(ctx context.Context, results []*model.ExtractionResult, onDone func(BatchOutcome)) (*BatchSummary, error) {
	summary := &BatchSummary{Outcomes: make([]BatchOutcome, len(results))}
	var mu sync.Mutex

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(DefaultBatchWorkers)

	for i, result := range results {
		i, result := i, result
		group.Go(func() error {
			txn, err := e.Resolve(ctx, result)
			outcome := BatchOutcome{
				Err:         err,
				Transaction: txn,
			}
			if result != nil {
				outcome.DocID = result.DocID
				outcome.FileName = result.FileName
			}

			mu.Lock()
			summary.Outcomes[i] = outcome
			summary.tally(outcome)
			mu.Unlock()

			if onDone != nil {
				onDone(outcome)
			}
			// Only context cancellation stops the batch.
			return ctx.Err()
		})
	}

	if err := group.Wait(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *BatchSummary) tally(outcome BatchOutcome) {
	if outcome.Err != nil {
		s.Errors++
		return
	}
	if outcome.Transaction == nil {
		return
	}
	switch {
	case outcome.Transaction.DuplicateDetected:
		s.Duplicate++
	case outcome.Transaction.Status == model.StatusPendingManual:
		s.Pending++
	case outcome.Transaction.Status == model.StatusFailed:
		s.Failed++
	default:
		s.Auto++
	}
}
