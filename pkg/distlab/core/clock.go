package core

import "sync"

// LogicalClock is a Lamport scalar clock, process-local and shared
// across every protocol layer within a peer (barrier, bank, mutex all
// update the same clock through the IPC layer — see spec §4.5).
type LogicalClock struct {
	mu sync.Mutex
	l  int16
}

// Tick applies rule L1: a local event or a send bumps the clock by one
// and returns the new value, which the caller stamps on any outgoing
// message.
func (c *LogicalClock) Tick() int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.l++
	return c.l
}

// Observe applies rule L2: after a message carrying time t has been
// fully read, the clock becomes max(L, t) + 1.
func (c *LogicalClock) Observe(t int16) int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t > c.l {
		c.l = t
	}
	c.l++
	return c.l
}

// Time reads the current value without advancing it. A caller that
// wants to log an "internal event" without sending must call Tick
// once before reading Time, per spec §4.5.
func (c *LogicalClock) Time() int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.l
}
