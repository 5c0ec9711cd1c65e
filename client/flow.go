package client

import "sync"

// flowController tracks broker credit. readyCount is the last value sent with
// RDY, inFlight counts messages delivered since then.
type flowController struct {
	readyCount int64
	inFlight   int64
	threshold  float64

	mu sync.Mutex
}

func newFlowController(threshold float64) *flowController {
	return &flowController{threshold: threshold}
}

// setReady calls write with n and resets the counters while holding the lock,
// so RDY commands hit the wire in the same order the counters change.
func (f *flowController) setReady(n int64, write func(n int64)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	write(n)
	f.readyCount = n
	f.inFlight = 0
}

func (f *flowController) delivered() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.inFlight++
	return f.inFlight
}

// replenish resends the current ready count once more than threshold of it
// was consumed. It reports whether RDY was written.
func (f *flowController) replenish(write func(n int64)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readyCount <= 0 {
		return false
	}
	if float64(f.inFlight)/float64(f.readyCount) <= f.threshold {
		return false
	}

	write(f.readyCount)
	f.inFlight = 0
	return true
}

func (f *flowController) counts() (readyCount, inFlight int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.readyCount, f.inFlight
}
