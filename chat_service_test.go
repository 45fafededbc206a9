package main

import (
	"os"
	"path/filepath"
	"testing"

	"labpilot/database"
)

func TestChatServicePersistence(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewChatService(tmpDir)

	thread := ChatThread{
		ID:        "thread-1",
		Title:     "gene analysis",
		CreatedAt: 1000,
		Messages: []ChatMessage{
			{ID: "m1", Role: "user", Content: "which samples exceed the threshold?", Timestamp: 1000},
			{ID: "m2", Role: "assistant", Content: "Two samples do.", Timestamp: 1001,
				Table: &database.ResultTable{Columns: []string{"sample"}, Rows: [][]interface{}{{"s2"}, {"s3"}}}},
		},
	}
	if err := s.SaveThread(thread); err != nil {
		t.Fatalf("SaveThread failed: %v", err)
	}

	got, err := s.GetThread("thread-1")
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if got.Title != "gene analysis" || len(got.Messages) != 2 {
		t.Errorf("thread = %+v", got)
	}
	if got.Messages[1].Table == nil || len(got.Messages[1].Table.Rows) != 2 {
		t.Errorf("table attachment lost: %+v", got.Messages[1])
	}
}

func TestChatServiceLoadThreadsSorted(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewChatService(tmpDir)

	s.SaveThread(ChatThread{ID: "older", CreatedAt: 100})
	s.SaveThread(ChatThread{ID: "newer", CreatedAt: 200})

	threads, err := s.LoadThreads()
	if err != nil {
		t.Fatalf("LoadThreads failed: %v", err)
	}
	if len(threads) != 2 {
		t.Fatalf("got %d threads, want 2", len(threads))
	}
	if threads[0].ID != "newer" {
		t.Errorf("threads not sorted newest first: %s", threads[0].ID)
	}
}

func TestChatServiceAppendMessagesCreatesThread(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewChatService(tmpDir)

	err := s.AppendMessages("t1", "first question",
		ChatMessage{ID: "m1", Role: "user", Content: "hi"})
	if err != nil {
		t.Fatalf("AppendMessages failed: %v", err)
	}
	err = s.AppendMessages("t1", "ignored",
		ChatMessage{ID: "m2", Role: "assistant", Content: "hello"})
	if err != nil {
		t.Fatalf("second AppendMessages failed: %v", err)
	}

	got, err := s.GetThread("t1")
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if got.Title != "first question" {
		t.Errorf("title = %q, want the creating title kept", got.Title)
	}
	if len(got.Messages) != 2 {
		t.Errorf("got %d messages, want 2", len(got.Messages))
	}
}

func TestChatServiceSanitizesThreadID(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewChatService(tmpDir)

	if err := s.SaveThread(ChatThread{ID: "../../etc/passwd", CreatedAt: 1}); err != nil {
		t.Fatalf("SaveThread failed: %v", err)
	}

	// The file must land inside the sessions dir, under the sanitized name.
	if _, err := os.Stat(filepath.Join(tmpDir, "etcpasswd", "history.json")); err != nil {
		t.Errorf("sanitized thread file missing: %v", err)
	}
	outside := filepath.Join(filepath.Dir(tmpDir), "etc")
	if _, err := os.Stat(outside); err == nil {
		t.Error("path traversal escaped the sessions directory")
	}
}

func TestChatServiceDeleteThread(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewChatService(tmpDir)

	s.SaveThread(ChatThread{ID: "t1", CreatedAt: 1})
	if err := s.DeleteThread("t1"); err != nil {
		t.Fatalf("DeleteThread failed: %v", err)
	}
	if _, err := s.GetThread("t1"); err == nil {
		t.Error("GetThread succeeded after delete")
	}
	if err := s.DeleteThread("t1"); err == nil {
		t.Error("double delete succeeded")
	}
}
