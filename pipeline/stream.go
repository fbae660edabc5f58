package pipeline

import "sync"

// stream is a lossless broadcast channel: every subscriber gets every
// published value, in publish order. When a subscriber's buffer is full,
// publish waits until that subscriber takes a value or cancels its
// subscription. This is the reactive-stream primitive the inbound and
// outbound streams are built from.
type stream struct {
	mu   sync.Mutex
	subs map[chan interface{}]chan struct{}
}

func newStream() *stream {
	return &stream{subs: make(map[chan interface{}]chan struct{})}
}

func (s *stream) subscribe() (<-chan interface{}, func()) {
	ch := make(chan interface{}, 32)
	cancelled := make(chan struct{})
	s.mu.Lock()
	s.subs[ch] = cancelled
	s.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			// Unblock a publish waiting on ch before taking s.mu.
			close(cancelled)
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, ch)
			close(ch)
		})
	}
	return ch, cancel
}

func (s *stream) publish(v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch, cancelled := range s.subs {
		select {
		case ch <- v:
		case <-cancelled:
		}
	}
}

// exceptionStream carries ExceptionEvent values typed, so that an
// ExceptionEvent is never unboxed into interface{} before it reaches the
// caller. Unlike stream it is best-effort: a value is dropped for a
// subscriber whose buffer is full rather than stalling the publisher.
type exceptionStream struct {
	mu   sync.Mutex
	subs map[chan ExceptionEvent]struct{}
}

func newExceptionStream() *exceptionStream {
	return &exceptionStream{subs: make(map[chan ExceptionEvent]struct{})}
}

func (s *exceptionStream) subscribe() (<-chan ExceptionEvent, func()) {
	ch := make(chan ExceptionEvent, 32)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

func (s *exceptionStream) publish(v ExceptionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- v:
		default:
		}
	}
}
