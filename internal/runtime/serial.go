package runtime

// Serial executes submitted functions one at a time, in submission order, on a
// single goroutine it owns. Two functions dispatched to the same Serial never
// run concurrently; a slow function delays the ones queued behind it.
type Serial struct {
	q    *SubQueue[func()]
	done chan struct{}
}

func NewSerial() *Serial {
	s := &Serial{
		q:    NewSubQueue[func()](1),
		done: make(chan struct{}),
	}
	s.q.SetPaused(false)
	go s.run()
	return s
}

func (s *Serial) run() {
	defer close(s.done)
	for fn := range s.q.Chan() {
		fn()
	}
}

// Dispatch queues fn and returns immediately. It reports false once the Serial
// has been closed.
func (s *Serial) Dispatch(fn func()) bool {
	return s.q.Enqueue(fn)
}

// Pending is the number of functions waiting behind the one currently running.
func (s *Serial) Pending() int {
	return s.q.Len()
}

// Close discards queued functions and lets the worker goroutine exit. Functions
// already handed to the worker may still run. Close does not wait, so it is
// safe to call from a dispatched function.
func (s *Serial) Close() {
	s.q.Close()
}

// Done is closed when the worker goroutine has exited.
func (s *Serial) Done() <-chan struct{} {
	return s.done
}
