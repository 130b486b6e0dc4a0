package conversation

import "sync"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single immutable chat message.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History is the append-only turn sequence owned by one chat session.
type History struct {
	mu    sync.RWMutex
	turns []Turn
}

func NewHistory() *History {
	return &History{}
}

func (h *History) Append(turns ...Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, turns...)
}

// Turns returns a copy of every turn in insertion order.
func (h *History) Turns() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Window returns a copy of the last n turns without mutating the history.
func (h *History) Window(n int) []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lastTurns(h.turns, n)
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Clear resets the session history. Stored memory records are untouched.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}

func lastTurns(turns []Turn, n int) []Turn {
	if n <= 0 || len(turns) == 0 {
		return nil
	}
	if n > len(turns) {
		n = len(turns)
	}
	out := make([]Turn, n)
	copy(out, turns[len(turns)-n:])
	return out
}
