// Package worker manages the lifetime of background goroutines.
package worker

import "sync"

// Worker is a set of goroutines that are halted together.
//
// The zero value is ready to use. A Worker must not be copied after first
// use.
type Worker struct {
	sync.WaitGroup
	initOnce sync.Once
	haltOnce sync.Once

	haltCh chan struct{}
}

// Go runs fn in a new goroutine tracked by w. fn must return once the
// channel returned by HaltCh is closed.
func (w *Worker) Go(fn func()) {
	w.initOnce.Do(w.init)
	w.Add(1)
	go func() {
		defer w.Done()
		fn()
	}()
}

// Halt signals every goroutine started by w to return and waits for them.
// Calling Halt more than once is safe.
func (w *Worker) Halt() {
	w.initOnce.Do(w.init)
	w.haltOnce.Do(func() { close(w.haltCh) })
	w.Wait()
}

// HaltCh is closed when Halt is called.
func (w *Worker) HaltCh() <-chan struct{} {
	w.initOnce.Do(w.init)
	return w.haltCh
}

// Halted reports whether Halt has been called.
func (w *Worker) Halted() bool {
	select {
	case <-w.HaltCh():
		return true
	default:
		return false
	}
}

func (w *Worker) init() {
	w.haltCh = make(chan struct{})
}
