// Package session tracks connected clients: their conversation history
// and the outbound channel streamed results are delivered on.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/mcarver/toolhost/internal/llm"
	"github.com/mcarver/toolhost/internal/protocol"
)

// Session is one connected client. Created on connect, destroyed on
// disconnect; Close cancels the session context, which terminates any
// in-flight invocations owned by the session.
type Session struct {
	ID string

	ctx    context.Context
	cancel context.CancelFunc

	out  chan protocol.ServerMessage
	done chan struct{}

	mu            sync.Mutex
	history       []llm.Message
	historyWindow int
	closeOnce     sync.Once
}

// New creates a session. historyWindow bounds how many trailing
// messages History returns for dispatch context.
func New(parent context.Context, historyWindow int) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		ID:            uuid.New().String(),
		ctx:           ctx,
		cancel:        cancel,
		out:           make(chan protocol.ServerMessage, 16),
		done:          make(chan struct{}),
		historyWindow: historyWindow,
	}
}

// Context is canceled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

// Out is the channel the connection writer drains.
func (s *Session) Out() <-chan protocol.ServerMessage { return s.out }

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.done }

// Send queues a message for the client. Returns false once the session
// is closed; messages after close are dropped, not delivered.
func (s *Session) Send(msg protocol.ServerMessage) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- msg:
		return true
	case <-s.done:
		return false
	}
}

// Append records one conversation turn.
func (s *Session) Append(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, llm.Message{Role: role, Content: content})
}

// History returns a copy of the trailing history window.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if len(s.history) > s.historyWindow {
		start = len(s.history) - s.historyWindow
	}
	return append([]llm.Message(nil), s.history[start:]...)
}

// ClearHistory drops the conversation history.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// Close terminates the session: pending invocations are canceled and
// further sends are dropped. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
	})
}

// Manager tracks live sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Add registers a session.
func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

// Remove closes and forgets a session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.Close()
	}
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every session, for host shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
