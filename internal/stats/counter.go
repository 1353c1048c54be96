package stats

import "sync/atomic"

// atomicCounter is a tiny wrapper so dropped-event accounting reads clearly
// at call sites that aren't otherwise touching sync/atomic.
type atomicCounter struct {
	v atomic.Int64
}

func (c *atomicCounter) inc() {
	c.v.Add(1)
}

func (c *atomicCounter) load() int64 {
	return c.v.Load()
}
