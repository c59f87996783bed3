package websocket

import (
	"context"
	stderrors "errors"
	"sync"
	"time"
)

// ErrSessionClosed is returned by Next once the session is gone.
var ErrSessionClosed = stderrors.New("websocket: session closed")

// pending is a queued frame plus the order in which it was offered.
type pending struct {
	msg   Message
	order uint64
}

// Session is one subscribed browser. It keeps at most one pending frame per
// message type: a newer reload replaces an older one instead of queueing
// behind it.
type Session struct {
	id         uint64
	remoteAddr string
	createdAt  time.Time

	mu        sync.Mutex
	slots     map[MessageType]pending
	order     uint64
	lastAcked uint64
	delivered uint64

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id uint64, remoteAddr string) *Session {
	return &Session{
		id:         id,
		remoteAddr: remoteAddr,
		createdAt:  time.Now(),
		slots:      make(map[MessageType]pending, 2),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// ID returns the hub-assigned session id.
func (s *Session) ID() uint64 { return s.id }

// LastAcked returns the highest sequence delivered to the browser.
func (s *Session) LastAcked() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAcked
}

// Done is closed when the session is unsubscribed.
func (s *Session) Done() <-chan struct{} { return s.done }

// offer stores msg as the pending frame of its type. A reload that does not
// advance past what the browser already has is dropped.
func (s *Session) offer(msg Message) {
	s.mu.Lock()
	if msg.Type == MessageReload {
		if msg.Sequence <= s.lastAcked {
			s.mu.Unlock()
			return
		}
		if cur, ok := s.slots[MessageReload]; ok && cur.msg.Sequence >= msg.Sequence {
			s.mu.Unlock()
			return
		}
	}
	s.order++
	s.slots[msg.Type] = pending{msg: msg, order: s.order}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// acknowledge records that the browser has seen seq and drops any pending
// reload it makes redundant.
func (s *Session) acknowledge(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.lastAcked {
		s.lastAcked = seq
	}
	if cur, ok := s.slots[MessageReload]; ok && cur.msg.Sequence <= s.lastAcked {
		delete(s.slots, MessageReload)
	}
}

// take removes the oldest pending frame.
func (s *Session) take() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		first pending
		found bool
	)
	for _, p := range s.slots {
		if !found || p.order < first.order {
			first, found = p, true
		}
	}
	if !found {
		return Message{}, false
	}
	delete(s.slots, first.msg.Type)

	if first.msg.Type == MessageReload {
		if first.msg.Sequence <= s.lastAcked {
			return Message{}, false
		}
		s.lastAcked = first.msg.Sequence
	}
	s.delivered++
	return first.msg, true
}

// Next blocks until a frame is pending, the session closes, or ctx ends.
func (s *Session) Next(ctx context.Context) (Message, error) {
	for {
		if msg, ok := s.take(); ok {
			return msg, nil
		}
		select {
		case <-s.wake:
		case <-s.done:
			return Message{}, ErrSessionClosed
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// SessionInfo is a point-in-time view of a session for status output.
type SessionInfo struct {
	ID         uint64    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	LastAcked  uint64    `json:"last_acked"`
	Delivered  uint64    `json:"delivered"`
	Since      time.Time `json:"since"`
}

func (s *Session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:         s.id,
		RemoteAddr: s.remoteAddr,
		LastAcked:  s.lastAcked,
		Delivered:  s.delivered,
		Since:      s.createdAt,
	}
}
