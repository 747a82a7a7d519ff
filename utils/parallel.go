package utils

import (
	"runtime"
	"sync"

	"go.viam.com/utils"
)

// ParallelForEachRow calls f for every row in [0, height). The rows are split into one
// contiguous band per available processor thread and each band runs in its own goroutine.
func ParallelForEachRow(height int, f func(y int)) {
	procs := runtime.GOMAXPROCS(0)
	if procs > height {
		procs = height
	}
	if procs <= 1 {
		for y := 0; y < height; y++ {
			f(y)
		}
		return
	}
	band := height / procs
	var waitGroup sync.WaitGroup
	waitGroup.Add(procs)
	for i := 0; i < procs; i++ {
		start, end := i*band, (i+1)*band
		if i == procs-1 {
			end = height
		}
		utils.PanicCapturingGo(func() {
			defer waitGroup.Done()
			for y := start; y < end; y++ {
				f(y)
			}
		})
	}
	waitGroup.Wait()
}
