package coordinator

import "sync"

// FirstError is a one-shot error slot. Fan-out call sites use it to report a
// single failure per unit of work while still completing every branch.
type FirstError struct {
	mu  sync.Mutex
	err error
}

// Set stores err if no error has been stored yet. It reports whether err was
// the one kept. Nil errors are ignored.
func (f *FirstError) Set(err error) bool {
	if err == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false
	}
	f.err = err
	return true
}

// Err returns the stored error, if any.
func (f *FirstError) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
