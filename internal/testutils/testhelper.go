package testutils

import (
	"bytes"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger so execution flow shows up in -v output.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	logger.SetOutput(&testWriter{t: t})
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// testWriter routes log lines through t.Log so they are attributed to the test.
type testWriter struct {
	t *testing.T
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

// LogCapture is a logrus hook that keeps every entry for later inspection.
type LogCapture struct {
	mu      sync.Mutex
	entries []*logrus.Entry
}

// CaptureLogs attaches a LogCapture to logger.
func CaptureLogs(logger *logrus.Logger) *LogCapture {
	c := &LogCapture{}
	logger.AddHook(c)
	return c
}

func (c *LogCapture) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (c *LogCapture) Fire(e *logrus.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
	return nil
}

// Contains reports whether an entry at level has exactly message msg.
func (c *LogCapture) Contains(level logrus.Level, msg string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.Level == level && e.Message == msg {
			return true
		}
	}
	return false
}
