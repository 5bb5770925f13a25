package metrics

import "time"

type DispatcherMetrics interface {
	TasksClaimed(n int)
	TaskSucceeded()
	TaskRetried()
	TaskFailed()
	TasksReclaimed(n int)
	AttemptLatency(d time.Duration)
}

// Nop discards all observations.
type Nop struct{}

func (Nop) TasksClaimed(int)             {}
func (Nop) TaskSucceeded()               {}
func (Nop) TaskRetried()                 {}
func (Nop) TaskFailed()                  {}
func (Nop) TasksReclaimed(int)           {}
func (Nop) AttemptLatency(time.Duration) {}
