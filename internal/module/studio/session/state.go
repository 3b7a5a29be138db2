package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// HistoryEntry is one successful generation.
type HistoryEntry struct {
	URL        string    `json:"url"`
	Prompt     string    `json:"prompt"`
	Timestamp  time.Time `json:"timestamp"`
	ModelLabel string    `json:"model_label"`
	RatioLabel string    `json:"ratio_label"`
}

// State is the per-session state: the current prompt text and the generation history.
// History is append-only; the only removal is Clear.
type State struct {
	mu sync.RWMutex

	id        uuid.UUID
	createdAt time.Time
	lastSeen  time.Time
	prompt    string
	history   []HistoryEntry
}

// NewState creates a session state with the given initial prompt.
func NewState(prompt string, now time.Time) *State {
	return &State{
		id:        uuid.New(),
		createdAt: now,
		lastSeen:  now,
		prompt:    prompt,
	}
}

// ID returns the session ID.
func (s *State) ID() uuid.UUID { return s.id }

// CreatedAt returns the creation time.
func (s *State) CreatedAt() time.Time { return s.createdAt }

// Prompt returns the current prompt text.
func (s *State) Prompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompt
}

// SetPrompt replaces the prompt text.
func (s *State) SetPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompt = prompt
}

// Append adds an entry to the end of the history.
func (s *State) Append(entry HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entry)
}

// History returns a copy of the history, oldest first.
func (s *State) History() []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// Len returns the number of history entries.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// Clear empties the history.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

func (s *State) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *State) idleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID           uuid.UUID `json:"id"`
	Prompt       string    `json:"prompt"`
	HistorySize  int       `json:"history_size"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Snapshot returns the current view of the session.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:           s.id,
		Prompt:       s.prompt,
		HistorySize:  len(s.history),
		CreatedAt:    s.createdAt,
		LastActiveAt: s.lastSeen,
	}
}
