package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerWithFileWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "node.log")
	logger, err := NewLoggerWithFile(LogFile{Path: path})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Sugar().Infow("block_committed", "height", 3)
	logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"block_committed"`) || !strings.Contains(string(data), `"height":3`) {
		t.Errorf("log line = %s", data)
	}
}

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	before := time.Now()
	<-c.After(time.Millisecond)
	if c.Now().Before(before) {
		t.Error("clock went backwards")
	}
}

func TestManualClock(t *testing.T) {
	start := time.Unix(1700000000, 0)
	c := NewManualClock(start)
	c.Advance(2 * time.Second)
	if got := c.Now(); !got.Equal(start.Add(2 * time.Second)) {
		t.Fatalf("now = %v", got)
	}
	c.Set(start)
	if !c.Now().Equal(start) {
		t.Fatalf("set did not move the clock back")
	}

	ch := c.After(time.Hour)
	go c.Tick()
	if got := <-ch; !got.Equal(start) {
		t.Errorf("tick = %v, want %v", got, start)
	}
}
