package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, b *syncBuffer, substr string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := b.String(); strings.Contains(s, substr) {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%q not logged; got %q", substr, b.String())
	return ""
}

func TestJSONOutput(t *testing.T) {
	buf := &syncBuffer{}
	SetOutput(buf)
	SetPrefix("test")
	Configure("debug", "json")

	Infof("hello %d", 42)
	LogDuration("slowOp", time.Now().Add(-150*time.Millisecond))
	Debugf("details %s", "x")
	out := waitFor(t, buf, "details x")

	var sawHello, sawTiming bool
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("not json: %q", line)
		}
		if rec["svc"] != "test" {
			t.Fatalf("missing svc field: %v", rec)
		}
		switch rec["message"] {
		case "hello 42":
			sawHello = rec["level"] == "info"
		case "timing":
			sawTiming = rec["fn"] == "slowOp" && rec["duration_ms"].(float64) >= 150
		}
	}
	if !sawHello || !sawTiming {
		t.Fatalf("records missing in %q", out)
	}

	Configure("info", "json")
	Debugf("hidden")
	Errorf("visible")
	out = waitFor(t, buf, "visible")
	if strings.Contains(out, "hidden") {
		t.Fatal("debug record written at info level")
	}
}
