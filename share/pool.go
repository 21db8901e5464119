package share

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is the number of concurrent upload writers.
const DefaultWorkers = 4

// writers bounds the number of uploads being written at once, across
// every Ingest call on a Service.
type writers struct {
	sem    *semaphore.Weighted
	size   int64
	closed atomic.Bool
}

func newWriters(n int) *writers {
	if n < 1 {
		n = DefaultWorkers
	}
	return &writers{sem: semaphore.NewWeighted(int64(n)), size: int64(n)}
}

// start waits for a free slot and runs fn in its own goroutine.  done
// is released after fn returns.  If ctx has ended, or ends while
// waiting, or the writers are closed, fn never runs and the error says
// why.
func (wr *writers) start(ctx context.Context, done *sync.WaitGroup, fn func()) (err error) {
	if wr.closed.Load() {
		return errClosed
	}
	err = ctx.Err()
	if err != nil {
		return
	}
	err = wr.sem.Acquire(ctx, 1)
	if err != nil {
		return
	}
	done.Add(1)
	go func() {
		defer done.Done()
		defer wr.sem.Release(1)
		fn()
	}()
	return nil
}

// close refuses new writes and waits for the running ones.
func (wr *writers) close() {
	wr.closed.Store(true)
	wr.sem.Acquire(context.Background(), wr.size)
	wr.sem.Release(wr.size)
}
