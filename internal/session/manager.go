package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/recall/internal/conversation"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrEnded    = errors.New("session ended")
)

const (
	DefaultInactivityTimeout = 15 * time.Minute
	DefaultRetention         = time.Hour
)

type Session struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	Status         Status    `json:"status"`
	VoiceID        string    `json:"voice_id"`
	TurnCount      int       `json:"turn_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type entry struct {
	session Session
	history *conversation.History
	// turn serializes exchanges so history appends stay in order.
	turn sync.Mutex
}

// Manager owns chat sessions and their conversation histories. Histories
// live only in process memory and are dropped when a session is purged.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*entry
	inactivityTimeout time.Duration
	retention         time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout, retention time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = DefaultInactivityTimeout
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Manager{
		sessions:          make(map[string]*entry),
		inactivityTimeout: inactivityTimeout,
		retention:         retention,
	}
}

func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(userID, voiceID string) *Session {
	now := time.Now().UTC()
	e := &entry{
		session: Session{
			ID:             uuid.NewString(),
			UserID:         userID,
			VoiceID:        voiceID,
			Status:         StatusActive,
			StartedAt:      now,
			LastActivityAt: now,
		},
		history: conversation.NewHistory(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[e.session.ID] = e
	return clone(&e.session)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(&e.session), nil
}

// History returns the live history of an active session.
func (m *Manager) History(sessionID string) (*conversation.History, error) {
	e, err := m.active(sessionID)
	if err != nil {
		return nil, err
	}
	return e.history, nil
}

// Turns returns a snapshot of the session's history. Ended sessions keep
// their transcript until purged.
func (m *Manager) Turns(sessionID string) ([]conversation.Turn, error) {
	m.mu.RLock()
	e, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e.history.Turns(), nil
}

// BeginTurn locks the session for one exchange and returns its history.
// The caller must call the returned release func.
func (m *Manager) BeginTurn(sessionID string) (*conversation.History, func(), error) {
	e, err := m.active(sessionID)
	if err != nil {
		return nil, nil, err
	}
	e.turn.Lock()

	m.mu.Lock()
	if e.session.Status != StatusActive {
		m.mu.Unlock()
		e.turn.Unlock()
		return nil, nil, ErrEnded
	}
	e.session.TurnCount++
	e.session.LastActivityAt = time.Now().UTC()
	m.mu.Unlock()

	return e.history, e.turn.Unlock, nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.session.LastActivityAt = time.Now().UTC()
	return nil
}

// ClearHistory empties the session's conversation history. Stored memory
// records are not affected.
func (m *Manager) ClearHistory(sessionID string) error {
	e, err := m.active(sessionID)
	if err != nil {
		return err
	}
	e.turn.Lock()
	defer e.turn.Unlock()
	e.history.Clear()
	return m.Touch(sessionID)
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	e.session.Status = StatusEnded
	e.session.LastActivityAt = time.Now().UTC()
	return clone(&e.session), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(time.Now().UTC())
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.sessions {
		if e.session.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) active(sessionID string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if e.session.Status != StatusActive {
		return nil, ErrEnded
	}
	return e, nil
}

// sweep ends inactive sessions and purges ended ones past retention.
func (m *Manager) sweep(now time.Time) {
	var expired []*Session

	m.mu.Lock()
	for id, e := range m.sessions {
		s := &e.session
		switch s.Status {
		case StatusActive:
			if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
				continue
			}
			s.Status = StatusEnded
			s.LastActivityAt = now
			expired = append(expired, clone(s))
		case StatusEnded:
			if now.Sub(s.LastActivityAt) >= m.retention {
				delete(m.sessions, id)
			}
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
