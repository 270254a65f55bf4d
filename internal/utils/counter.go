package utils

import "sync/atomic"

// Counter is a lock-free statistics counter. Counters are incremented from the
// producer thread but may be read from a separate reporting thread, so all
// access goes through atomics.
type Counter struct {
	value uint64
}

func (c *Counter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

func (c *Counter) Add(delta int) {
	atomic.AddUint64(&c.value, uint64(delta))
}

func (c *Counter) Load() uint64 {
	return atomic.LoadUint64(&c.value)
}

func (c *Counter) Reset() {
	atomic.StoreUint64(&c.value, 0)
}
