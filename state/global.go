package state

import (
	"sync"
	"sync/atomic"
)

var (
	otelState      *OTELState
	otelStateMutex sync.RWMutex

	collector      *Collector = NewCollector()
	collectorMutex sync.RWMutex

	// single counter shared by every protocol: a sequence number is
	// never reused and never reset.
	sequence atomic.Uint64
)

var _ GetterFn = GlobalState

// GlobalState retrieves the configured global state.
func GlobalState() OTEL {
	otelStateMutex.RLock()
	s := otelState
	otelStateMutex.RUnlock()
	if s == nil {
		return nil
	}
	return s
}

// SetGlobalState sets the provided state as the global state.
func SetGlobalState(s *OTELState) {
	otelStateMutex.Lock()
	otelState = s
	otelStateMutex.Unlock()
}

// GlobalCollector retrieves the record sink for the current unit of
// work.
func GlobalCollector() *Collector {
	collectorMutex.RLock()
	c := collector
	collectorMutex.RUnlock()
	return c
}

// SetGlobalCollector installs the record sink owned by the calling
// application.
func SetGlobalCollector(c *Collector) {
	collectorMutex.Lock()
	collector = c
	collectorMutex.Unlock()
}

// NextSequence returns the next call sequence number: strictly
// increasing, starting at 1.
func NextSequence() uint64 {
	return sequence.Add(1)
}
