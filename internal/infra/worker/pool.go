// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
)

// Pool runs submitted tasks with at most n in flight. It is used once per
// batch: Go for each item, then Wait.
type Pool struct {
	ctx context.Context
	wg  sync.WaitGroup
	sem chan struct{}
	log *zerolog.Logger
}

func NewPool(ctx context.Context, workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{ctx: ctx, sem: make(chan struct{}, workers), log: logger}
}

// Go blocks while the pool is saturated. Tasks submitted after ctx is done
// are skipped.
func (p *Pool) Go(task func(ctx context.Context)) {
	if task == nil || p.ctx.Err() != nil {
		return
	}
	select {
	case <-p.ctx.Done():
		return
	case p.sem <- struct{}{}:
	}
	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()
		defer func() {
			if r := recover(); r != nil && p.log != nil {
				p.log.Error().Interface("panic", r).Msg("worker task panicked")
			}
		}()
		task(p.ctx)
	}()
}

func (p *Pool) Wait() {
	p.wg.Wait()
}
