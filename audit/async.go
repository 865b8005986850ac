package audit

import "sync"

// AsyncSink decouples emitters from a slow downstream sink with a bounded
// buffer. Events are dropped when the buffer is full.
type AsyncSink struct {
	inner Sink
	ch    chan Entry
	done  chan struct{}
	once  sync.Once
}

// NewAsync wraps a sink with an asynchronous bounded buffer.
func NewAsync(inner Sink, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &AsyncSink{
		inner: inner,
		ch:    make(chan Entry, buffer),
		done:  make(chan struct{}),
	}
	go s.drain()
	return s
}

// Emit implements Sink. Never blocks; drops when the buffer is full.
func (s *AsyncSink) Emit(event string, data map[string]any) {
	select {
	case s.ch <- Entry{Event: event, Data: data}:
	default:
	}
}

// Close stops the drain goroutine after flushing buffered events.
func (s *AsyncSink) Close() {
	s.once.Do(func() {
		close(s.ch)
		<-s.done
	})
}

func (s *AsyncSink) drain() {
	defer close(s.done)
	for e := range s.ch {
		s.inner.Emit(e.Event, e.Data)
	}
}
