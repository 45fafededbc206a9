package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"labpilot/agent"
	"labpilot/database"
)

// ChatMessage represents a single message in a chat thread
type ChatMessage struct {
	ID           string                `json:"id"`
	Role         string                `json:"role"` // "user" or "assistant"
	Content      string                `json:"content"`
	Timestamp    int64                 `json:"timestamp"`
	Table        *database.ResultTable `json:"table,omitempty"`
	Plot         *agent.PlotSpec       `json:"plot,omitempty"`
	Steps        int                   `json:"steps,omitempty"`
	StepLimitHit bool                  `json:"step_limit_hit,omitempty"`
	ErrorKind    string                `json:"error_kind,omitempty"`
}

// ChatThread represents one persisted conversation
type ChatThread struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	CreatedAt int64         `json:"created_at"`
	Messages  []ChatMessage `json:"messages"`
}

// ChatService handles the persistence of chat history
type ChatService struct {
	sessionsDir string
	mu          sync.Mutex
}

// NewChatService creates a new instance of ChatService
func NewChatService(sessionsDir string) *ChatService {
	if err := os.MkdirAll(sessionsDir, 0755); err != nil {
		fmt.Printf("Warning: failed to create sessions directory %s: %v\n", sessionsDir, err)
	}
	return &ChatService{
		sessionsDir: sessionsDir,
	}
}

// getThreadPath returns the path to the history file for a given thread
func (s *ChatService) getThreadPath(threadID string) string {
	return filepath.Join(s.sessionsDir, s.sanitizeThreadID(threadID), "history.json")
}

// sanitizeThreadID sanitizes a threadID to prevent path traversal attacks
// Only allows alphanumeric, hyphens, and underscores
func (s *ChatService) sanitizeThreadID(threadID string) string {
	safe := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return -1
	}, threadID)
	if safe == "" {
		safe = "invalid"
	}
	return safe
}

// LoadThreads loads all chat threads from storage, newest first
func (s *ChatService) LoadThreads() ([]ChatThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.sessionsDir)
	if err != nil {
		return []ChatThread{}, nil
	}

	var threads []ChatThread
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := s.getThreadPath(entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var t ChatThread
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		threads = append(threads, t)
	}

	sort.Slice(threads, func(i, j int) bool {
		return threads[i].CreatedAt > threads[j].CreatedAt
	})

	if threads == nil {
		threads = []ChatThread{}
	}
	return threads, nil
}

// GetThread loads one thread by ID
func (s *ChatService) GetThread(threadID string) (*ChatThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.getThreadPath(threadID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, WrapError("chat", "GetThread", fmt.Errorf("thread %s not found", threadID))
		}
		return nil, WrapError("chat", "GetThread", err)
	}

	var t ChatThread
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, WrapError("chat", "GetThread", err)
	}
	return &t, nil
}

// SaveThread persists one thread to storage
func (s *ChatService) SaveThread(t ChatThread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		return WrapError("chat", "SaveThread", fmt.Errorf("thread ID must not be empty"))
	}
	if t.CreatedAt == 0 {
		t.CreatedAt = time.Now().UnixMilli()
	}

	dir := filepath.Join(s.sessionsDir, s.sanitizeThreadID(t.ID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return WrapError("chat", "SaveThread", err)
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return WrapError("chat", "SaveThread", err)
	}
	if err := os.WriteFile(s.getThreadPath(t.ID), data, 0644); err != nil {
		return WrapError("chat", "SaveThread", err)
	}
	return nil
}

// AppendMessages adds messages to a thread, creating the thread on first use
func (s *ChatService) AppendMessages(threadID, title string, msgs ...ChatMessage) error {
	t, err := s.GetThread(threadID)
	if err != nil {
		t = &ChatThread{
			ID:        threadID,
			Title:     title,
			CreatedAt: time.Now().UnixMilli(),
		}
	}
	t.Messages = append(t.Messages, msgs...)
	if t.Title == "" {
		t.Title = title
	}
	return s.SaveThread(*t)
}

// DeleteThread removes a thread and its files from storage
func (s *ChatService) DeleteThread(threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.sessionsDir, s.sanitizeThreadID(threadID))
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return WrapError("chat", "DeleteThread", fmt.Errorf("thread %s not found", threadID))
	}
	if err := os.RemoveAll(dir); err != nil {
		return WrapError("chat", "DeleteThread", err)
	}
	return nil
}
