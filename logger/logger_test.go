package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readLogFile(t *testing.T, dir string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "labpilot_*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("log files = %v (err %v), want exactly one", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	return string(data)
}

func TestLoggerWritesToDatedFile(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger()
	if err := l.Init(dir); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	l.Log("first message")
	l.Logf("value is %d", 42)
	l.Close()

	content := readLogFile(t, dir)
	for _, want := range []string{"first message", "value is 42"} {
		if !strings.Contains(content, want) {
			t.Errorf("log missing %q:\n%s", want, content)
		}
	}
}

func TestDebugfGatedByFlag(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger()
	if err := l.Init(dir); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	l.Debugf("hidden %s", "detail")
	l.SetDebug(true)
	l.Debugf("visible %s", "detail")
	l.Close()

	content := readLogFile(t, dir)
	if strings.Contains(content, "hidden detail") {
		t.Error("Debugf wrote while debug logging was off")
	}
	if !strings.Contains(content, "visible detail") {
		t.Error("Debugf did not write while debug logging was on")
	}
}
