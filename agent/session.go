package agent

import (
	"sort"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

// maxSessionMessages caps a session transcript. Older exchanges are dropped
// ahead of the cap, but the leading system message always survives.
const maxSessionMessages = 200

// Session is one conversation: a transcript plus bookkeeping. A session
// serves one request at a time; Acquire/Release bracket a full turn so
// concurrent requests against the same session queue up instead of
// interleaving their tool traffic.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	turnMu sync.Mutex
	mu     sync.Mutex
	msgs   []*schema.Message

	activeDataset string
}

// NewSession creates a session seeded with a system prompt.
func NewSession(systemPrompt string) *Session {
	now := time.Now()
	s := &Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if systemPrompt != "" {
		s.msgs = []*schema.Message{{Role: schema.System, Content: systemPrompt}}
	}
	return s
}

// Acquire blocks until the session is free for a turn.
func (s *Session) Acquire() {
	s.turnMu.Lock()
}

// Release ends the turn.
func (s *Session) Release() {
	s.turnMu.Unlock()
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []*schema.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*schema.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// SetTranscript replaces the transcript, trimming to the message cap.
func (s *Session) SetTranscript(msgs []*schema.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = trimTranscript(msgs)
	s.UpdatedAt = time.Now()
}

// Append adds messages to the transcript.
func (s *Session) Append(msgs ...*schema.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = trimTranscript(append(s.msgs, msgs...))
	s.UpdatedAt = time.Now()
}

// Len returns the transcript length.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// SetActiveDataset records the dataset the session is currently working on.
func (s *Session) SetActiveDataset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeDataset = id
}

// ActiveDataset returns the session's current dataset ID, or "".
func (s *Session) ActiveDataset() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeDataset
}

// Reset drops the transcript back to the seed system message and clears the
// active dataset.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) > 0 && s.msgs[0].Role == schema.System {
		s.msgs = s.msgs[:1]
	} else {
		s.msgs = nil
	}
	s.activeDataset = ""
	s.UpdatedAt = time.Now()
}

func trimTranscript(msgs []*schema.Message) []*schema.Message {
	if len(msgs) <= maxSessionMessages {
		return msgs
	}
	keep := msgs[len(msgs)-maxSessionMessages:]
	if len(msgs) > 0 && msgs[0].Role == schema.System && (len(keep) == 0 || keep[0].Role != schema.System) {
		keep = append([]*schema.Message{msgs[0]}, keep[1:]...)
	}
	return keep
}

// SessionStore is the registry of live sessions.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// Create registers a new session with the given system prompt.
func (st *SessionStore) Create(systemPrompt string) *Session {
	s := NewSession(systemPrompt)
	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	return s
}

// Get looks a session up by ID.
func (st *SessionStore) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Delete removes a session. Returns false if it did not exist.
func (st *SessionStore) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return false
	}
	delete(st.sessions, id)
	return true
}

// List returns all sessions, most recently updated first.
func (st *SessionStore) List() []*Session {
	st.mu.RLock()
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	st.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}
