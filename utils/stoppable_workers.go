package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// StoppableWorkers runs a fixed set of long-lived loops that share one cancellation context.
type StoppableWorkers struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewStoppableWorkers starts each function in its own goroutine. Panics are captured and logged
// by go.viam.com/utils so one failing loop does not take the process down.
func NewStoppableWorkers(funcs ...func(context.Context)) *StoppableWorkers {
	ctx, cancel := context.WithCancel(context.Background())
	sw := &StoppableWorkers{cancel: cancel}
	sw.wg.Add(len(funcs))
	for _, f := range funcs {
		f := f
		goutils.PanicCapturingGo(func() {
			defer sw.wg.Done()
			f(ctx)
		})
	}
	return sw
}

// Stop cancels the shared context and waits for every loop to return. Later calls return
// immediately.
func (sw *StoppableWorkers) Stop() {
	sw.once.Do(func() {
		sw.cancel()
		sw.wg.Wait()
	})
}
