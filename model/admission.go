package model

// FastPathOutcome is the result of the lock-free admission attempt. It is
// either a FastPathResult (the cache had an entry and decided) or
// SlowPathRequired (cold cache, take the locked path).
type FastPathOutcome interface {
	isFastPathOutcome()
}

type FastPathResult struct {
	Enqueued bool
	// Locked is set when a locked-path admission for the seat is in flight.
	Locked bool
	// Status is the cached status that caused a rejection. Empty when Enqueued
	// or Locked.
	Status SeatStatus
}

type SlowPathRequired struct{}

func (FastPathResult) isFastPathOutcome()   {}
func (SlowPathRequired) isFastPathOutcome() {}
