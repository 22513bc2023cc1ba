package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"jukebox/internal/protocol"
)

// sendBuffer is how many frames may queue for one session before it is
// considered too slow and dropped.
const sendBuffer = 64

// Session is one connected listener.
type Session struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession creates a session with a fresh id.
func NewSession(remoteAddr string) *Session {
	return &Session{
		ID:          uuid.NewString(),
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
	}
}

// Enqueue queues a frame without blocking. It returns false when the
// session is closed or its queue is full.
func (s *Session) Enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Send encodes and queues msg.
func (s *Session) Send(msg protocol.Message) bool {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return false
	}
	return s.Enqueue(frame)
}

// Outgoing is the queue drained by the connection's writer.
func (s *Session) Outgoing() <-chan []byte {
	return s.send
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close ends the session. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// SessionManager tracks connected sessions and fans server events out to
// them. It implements engine.Broadcaster.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	watchers map[chan protocol.Message]struct{}
	log      zerolog.Logger
}

// NewSessionManager creates a new session manager.
func NewSessionManager(log zerolog.Logger) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		watchers: make(map[chan protocol.Message]struct{}),
		log:      log,
	}
}

// Add registers s.
func (m *SessionManager) Add(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

// Remove unregisters and closes the session with the given ID.
func (m *SessionManager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.Close()
	}
}

// Count returns the number of connected sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Broadcast queues msg on every session and watcher. Sessions that cannot
// keep up are disconnected; watchers simply miss the event.
func (m *SessionManager) Broadcast(msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		m.log.Error().Err(err).Str("type", string(msg.Type)).Msg("encode broadcast")
		return
	}

	var slow []string
	m.mu.RLock()
	for id, s := range m.sessions {
		if !s.Enqueue(frame) {
			slow = append(slow, id)
		}
	}
	for ch := range m.watchers {
		select {
		case ch <- msg:
		default:
		}
	}
	m.mu.RUnlock()

	for _, id := range slow {
		m.log.Warn().Str("session", id).Msg("dropping slow session")
		m.Remove(id)
	}
	m.log.Debug().Str("type", string(msg.Type)).Int("sessions", m.Count()).Msg("broadcast")
}

// Watch subscribes to broadcasts without being a session. The returned
// function unsubscribes.
func (m *SessionManager) Watch() (<-chan protocol.Message, func()) {
	ch := make(chan protocol.Message, 16)

	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, ch)
			m.mu.Unlock()
		})
	}
}

// CloseAll ends every session.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
