package primitives

import "sync"

// SingleUseLock memoises a value across concurrent first-use races: the
// first caller to invoke Get computes and stores the value (e.g. a
// freshly minted session id); every later caller, concurrent or not,
// observes the same stored value without recomputing it. Get holds the
// mutex only long enough to either return a cached value or run
// compute(), never across a suspension point.
type SingleUseLock[T any] struct {
	mu     sync.Mutex
	value  T
	filled bool
}

// NewSingleUseLock returns a lock with no stored value.
func NewSingleUseLock[T any]() *SingleUseLock[T] {
	return &SingleUseLock[T]{}
}

// NewFilledSingleUseLock returns a lock already holding value, used when
// a node resumes execution for a session that's already been created,
// since the current node is already executing within it.
func NewFilledSingleUseLock[T any](value T) *SingleUseLock[T] {
	return &SingleUseLock[T]{value: value, filled: true}
}

// Get returns the stored value and whether it was already present. If
// not present, it calls compute(), stores the result and returns
// (result, false).
func (l *SingleUseLock[T]) Get(compute func() T) (value T, wasPresent bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.filled {
		return l.value, true
	}
	l.value = compute()
	l.filled = true
	return l.value, false
}

// Value returns the stored value and whether it has been filled yet,
// without computing anything.
func (l *SingleUseLock[T]) Value() (value T, filled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.filled
}
