package fixedpoint

// Counter records saturation events. A nil *Counter is valid and counts
// nothing, so components can take one optionally.
type Counter struct {
	n uint32
}

// Clamp saturates v into [lo, hi], counting the event when v was out of range.
func (c *Counter) Clamp(v, lo, hi int64) int64 {
	if v < lo {
		c.inc()
		return lo
	}
	if v > hi {
		c.inc()
		return hi
	}
	return v
}

func (c *Counter) inc() {
	if c == nil || c.n == ^uint32(0) {
		return
	}
	c.n++
}

func (c *Counter) Count() uint32 {
	if c == nil {
		return 0
	}
	return c.n
}

func (c *Counter) Reset() {
	if c != nil {
		c.n = 0
	}
}
