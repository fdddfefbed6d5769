package session

import (
	"sync"
	"time"

	"chat-relay/internal/protocol"
)

// OverflowPolicy decides what happens when a session's outbound buffer is
// full: shed the oldest buffered frame, or give up on the session so a
// slow client cannot stall delivery.
type OverflowPolicy int

const (
	DropOldest OverflowPolicy = iota
	Disconnect
)

type Session struct {
	Id          string
	UserId      string
	ConnectedAt time.Time

	send   chan *protocol.ServerFrame
	policy OverflowPolicy

	mu       sync.Mutex
	channels map[string]struct{}
	closed   bool
	done     chan struct{}
}

func New(id, userId string, bufferSize int, policy OverflowPolicy) *Session {
	return &Session{
		Id:          id,
		UserId:      userId,
		ConnectedAt: time.Now().UTC(),
		send:        make(chan *protocol.ServerFrame, bufferSize),
		policy:      policy,
		channels:    make(map[string]struct{}),
		done:        make(chan struct{}),
	}
}

// Queue enqueues a frame without ever blocking the caller. It reports
// false when the session should be evicted: either it is already closed,
// or the buffer is full and the policy is Disconnect.
func (s *Session) Queue(frame *protocol.ServerFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.send <- frame:
		return true
	default:
	}

	if s.policy == Disconnect {
		return false
	}

	// DropOldest: shed one buffered frame, then retry once. The writer
	// may have drained the channel in between, so both selects need a
	// default arm.
	select {
	case <-s.send:
	default:
	}
	select {
	case s.send <- frame:
	default:
	}

	return true
}

// Outbound is the channel the write pump drains.
func (s *Session) Outbound() <-chan *protocol.ServerFrame {
	return s.send
}

// Done is closed when the session is terminally closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close marks the session terminal. Queue refuses frames afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) addChannel(channelId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[channelId] = struct{}{}
}

func (s *Session) removeChannel(channelId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, channelId)
}

func (s *Session) hasChannel(channelId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.channels[channelId]
	return ok
}

// Channels returns a snapshot of the session's subscribed channel ids.
func (s *Session) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	channels := make([]string, 0, len(s.channels))
	for id := range s.channels {
		channels = append(channels, id)
	}
	return channels
}
