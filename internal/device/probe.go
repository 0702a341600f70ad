package device

import (
	"sync"
	"sync/atomic"
)

// Probe counts device resources that are currently held. Tests use it to
// assert that cancellation and cleanup leave nothing open. A nil *Probe is
// valid and counts nothing.
type Probe struct {
	open  atomic.Int64
	total atomic.Int64
}

// NewProbe returns an empty probe.
func NewProbe() *Probe {
	return &Probe{}
}

// Acquire records an opened resource and returns its idempotent release func.
func (p *Probe) Acquire() func() {
	if p == nil {
		return func() {}
	}
	p.open.Add(1)
	p.total.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { p.open.Add(-1) })
	}
}

// Open returns the number of resources not yet released.
func (p *Probe) Open() int64 {
	if p == nil {
		return 0
	}
	return p.open.Load()
}

// Total returns the number of resources ever acquired.
func (p *Probe) Total() int64 {
	if p == nil {
		return 0
	}
	return p.total.Load()
}
