package metrics

import "time"

// Nop discards every observation.
type Nop struct{}

// NewNop creates a Nop collector.
func NewNop() *Nop { return &Nop{} }

func (Nop) CacheLookup(bool)                           {}
func (Nop) CacheRecompute(time.Duration, error)        {}
func (Nop) RefreshRun(string, time.Duration, int, int) {}
func (Nop) NotificationEnqueued(string)                {}
func (Nop) NotificationAttempt(string)                 {}
func (Nop) QueueDepth(map[string]int)                  {}
