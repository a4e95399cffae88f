package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	internalerrors "github.com/detloc/detloc/internal/errors"
	"github.com/detloc/detloc/internal/models"
)

// BulkItem is one slot of a bulk search. Exactly one of Result and Err
// is set; slots keep the input order.
type BulkItem struct {
	Result *models.SearchResult
	Err    error
}

// Bulk runs the queries with at most maxConcurrent in flight. Each
// query is a full Search, so global admission still paces the actual
// upstream traffic; the semaphore only bounds how many sessions exist
// at once. A failed slot never disturbs its neighbors unless
// stopOnError is set, which prevents new dispatches after the first
// failure while letting running searches finish.
func (o *Orchestrator) Bulk(ctx context.Context, queries []models.SearchQuery, maxConcurrent int, stopOnError bool) []BulkItem {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	items := make([]BulkItem, len(queries))
	sem := semaphore.NewWeighted(int64(maxConcurrent))
	var (
		wg      sync.WaitGroup
		stopped atomic.Bool
	)

	for i, q := range queries {
		// Acquiring in input order keeps dispatch order deterministic.
		if err := sem.Acquire(ctx, 1); err != nil {
			items[i].Err = internalerrors.New(internalerrors.KindCancelled, "bulk_search", err)
			continue
		}
		if stopped.Load() {
			sem.Release(1)
			items[i].Err = internalerrors.New(internalerrors.KindCancelled, "bulk_search",
				errors.New("skipped after earlier failure"))
			continue
		}

		wg.Add(1)
		go func(slot int, query models.SearchQuery) {
			defer wg.Done()
			defer sem.Release(1)

			res, err := o.Search(ctx, query)
			if err != nil {
				items[slot].Err = err
				if stopOnError {
					stopped.Store(true)
				}
				return
			}
			items[slot].Result = res
		}(i, q)
	}

	wg.Wait()
	return items
}
