package sse

// Dropped returns how many messages were skipped because a client was slow.
func (b *Broker) Dropped() int64 { return b.dropped.Load() }
