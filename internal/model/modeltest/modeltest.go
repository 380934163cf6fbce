// Package modeltest provides in-memory model streams for tests.
package modeltest

import (
	"context"
	"io"
	"sync"

	"github.com/ashureev/sonic-trainer/internal/model"
	"github.com/ashureev/sonic-trainer/internal/protocol"
)

// Stream is an in-memory model.Stream. Every frame passed to Send is
// recorded, including ones Send fails for.
type Stream struct {
	mu     sync.Mutex
	frames [][]byte
	failOn map[string]error
	closed bool

	incoming  chan []byte
	done      chan struct{}
	closeOnce sync.Once
	endOnce   sync.Once
}

// NewStream returns an open stream.
func NewStream() *Stream {
	return &Stream{
		failOn:   make(map[string]error),
		incoming: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
}

// FailOn makes Send return err for frames carrying the named event.
func (s *Stream) FailOn(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn[name] = err
}

// Send records frame.
func (s *Stream) Send(_ context.Context, frame []byte) error {
	ev, err := protocol.Decode(frame)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]byte(nil), frame...))
	if s.closed {
		return model.ErrStreamClosed
	}
	return s.failOn[ev.Name()]
}

// Receive returns pushed frames in order, then io.EOF after Finish or Close.
func (s *Stream) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-s.incoming:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	case <-s.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close marks the stream closed.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
	return nil
}

// Push queues a raw frame for Receive.
func (s *Stream) Push(frame []byte) {
	s.incoming <- frame
}

// PushEvent encodes ev and queues it for Receive.
func (s *Stream) PushEvent(ev protocol.Event) {
	frame, err := protocol.Encode(ev)
	if err != nil {
		panic(err)
	}
	s.Push(frame)
}

// Finish ends the inbound side; Receive returns io.EOF once drained.
func (s *Stream) Finish() {
	s.endOnce.Do(func() { close(s.incoming) })
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Events decodes every frame passed to Send.
func (s *Stream) Events() []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]protocol.Event, 0, len(s.frames))
	for _, f := range s.frames {
		ev, _ := protocol.Decode(f)
		events = append(events, ev)
	}
	return events
}

// Names returns the event names passed to Send, in order.
func (s *Stream) Names() []string {
	events := s.Events()
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Name()
	}
	return names
}

// Opener hands out streams. With Gate set, Open blocks until Gate is closed
// or ctx is done.
type Opener struct {
	mu      sync.Mutex
	Err     error
	Gate    chan struct{}
	New     func() *Stream
	streams []*Stream
	opened  chan struct{}
}

// Open returns a new Stream or Err.
func (o *Opener) Open(ctx context.Context) (model.Stream, error) {
	o.mu.Lock()
	if o.opened == nil {
		o.opened = make(chan struct{}, 16)
	}
	opened := o.opened
	o.mu.Unlock()

	select {
	case opened <- struct{}{}:
	default:
	}

	if o.Gate != nil {
		select {
		case <-o.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if o.Err != nil {
		return nil, o.Err
	}

	s := NewStream()
	if o.New != nil {
		s = o.New()
	}
	o.mu.Lock()
	o.streams = append(o.streams, s)
	o.mu.Unlock()
	return s, nil
}

// Opened signals each call to Open, before the gate.
func (o *Opener) Opened() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.opened == nil {
		o.opened = make(chan struct{}, 16)
	}
	return o.opened
}

// Streams returns the streams opened so far.
func (o *Opener) Streams() []*Stream {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Stream(nil), o.streams...)
}

// Last returns the most recently opened stream, or nil.
func (o *Opener) Last() *Stream {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.streams) == 0 {
		return nil
	}
	return o.streams[len(o.streams)-1]
}
