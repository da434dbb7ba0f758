package pipeline

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"eeg-io-engine/internal/types"
)

// BlockFunc processes one block and returns the number of samples it consumed.
type BlockFunc func(ctx context.Context, block types.Block) (int, error)

// ProgressFunc observes the number of completed blocks out of total.
type ProgressFunc func(done, total int)

// WorkerPool runs blocks on up to NumWorker executors. Each executor is
// created by NewExecutor and retired once it has consumed Quota samples, so
// per-executor state is released periodically. NumWorker == 0 runs every
// block in the calling goroutine.
type WorkerPool struct {
	NumWorker   int
	Quota       int
	NewExecutor func() BlockFunc
	Progress    ProgressFunc
	Logger      log.FieldLogger
}

// Run processes all blocks. The first failure cancels the remaining work and
// is returned unchanged.
func (p *WorkerPool) Run(ctx context.Context, blocks []types.Block) error {
	if p.NumWorker <= 0 {
		return p.runSequential(ctx, blocks)
	}

	g, gctx := errgroup.WithContext(ctx)

	jobs := make(chan types.Block)
	g.Go(func() error {
		defer close(jobs)
		for _, b := range blocks {
			select {
			case jobs <- b:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	tracker := newProgress(len(blocks), p.Progress)

	slots := min(p.NumWorker, len(blocks))
	for slot := 0; slot < slots; slot++ {
		g.Go(func() error {
			for generation := 0; ; generation++ {
				p.logger().WithFields(log.Fields{"slot": slot, "generation": generation}).Debug("executor started")
				more, err := p.drain(gctx, jobs, p.NewExecutor(), tracker)
				if err != nil || !more {
					return err
				}
				p.logger().WithFields(log.Fields{"slot": slot, "generation": generation}).Debug("executor reached sample quota, recycling")
			}
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (p *WorkerPool) logger() log.FieldLogger {
	if p.Logger == nil {
		return log.StandardLogger()
	}
	return p.Logger
}

// drain feeds jobs to exec until its quota is used up (true) or there is no
// more work (false).
func (p *WorkerPool) drain(ctx context.Context, jobs <-chan types.Block, exec BlockFunc, tracker *progress) (bool, error) {
	consumed := 0
	for p.Quota <= 0 || consumed < p.Quota {
		select {
		case <-ctx.Done():
			return false, nil
		case b, ok := <-jobs:
			if !ok {
				return false, nil
			}
			n, err := exec(ctx, b)
			if err != nil {
				return false, err
			}
			consumed += n
			tracker.done()
		}
	}
	return true, nil
}

func (p *WorkerPool) runSequential(ctx context.Context, blocks []types.Block) error {
	exec := p.NewExecutor()
	tracker := newProgress(len(blocks), p.Progress)
	for _, b := range blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := exec(ctx, b); err != nil {
			return err
		}
		tracker.done()
	}
	return nil
}

// progress serializes callbacks so observers see a monotonic count.
type progress struct {
	mu    sync.Mutex
	count int
	total int
	fn    ProgressFunc
}

func newProgress(total int, fn ProgressFunc) *progress {
	return &progress{total: total, fn: fn}
}

func (p *progress) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	if p.fn != nil {
		p.fn(p.count, p.total)
	}
}
