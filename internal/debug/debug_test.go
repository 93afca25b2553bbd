package debug

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func captureOutput(t *testing.T, lvl int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	Init(lvl)
	t.Cleanup(func() {
		Init(LevelOff)
	})
	return &buf
}

func TestInit_LevelGatesOutput(t *testing.T) {
	buf := captureOutput(t, LevelInfo)

	Info("levelling %s", "started")
	Verbose("kinematics detail")
	Trace("serial line")

	out := buf.String()
	if !strings.Contains(out, "levelling started") {
		t.Errorf("info message missing from output: %q", out)
	}
	if strings.Contains(out, "kinematics detail") {
		t.Errorf("verbose message should be suppressed at level 1: %q", out)
	}
	if strings.Contains(out, "serial line") {
		t.Errorf("trace message should be suppressed at level 1: %q", out)
	}
}

func TestWarn_AlwaysPrinted(t *testing.T) {
	buf := captureOutput(t, LevelOff)

	Warn("rate too high at step %d", 3)
	Error(errors.New("link lost"))

	out := buf.String()
	if !strings.Contains(out, "rate too high at step 3") {
		t.Errorf("warning missing at level 0: %q", out)
	}
	if !strings.Contains(out, "link lost") {
		t.Errorf("error missing at level 0: %q", out)
	}
}

func TestTrial_FieldsAtLiveLevel(t *testing.T) {
	buf := captureOutput(t, LevelLive)

	Trial(4, 50, -100, 1.5, 0.25, 15)

	out := buf.String()
	for _, want := range []string{"iteration=4", "motor_x=50", "motor_y=-100", "batch=15"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestIsEnabled(t *testing.T) {
	captureOutput(t, LevelVerbose)

	if !IsEnabled(LevelLive) {
		t.Error("live should be enabled at verbose level")
	}
	if IsEnabled(LevelTrace) {
		t.Error("trace should not be enabled at verbose level")
	}
}


func TestSummary_PrintedAtInfo(t *testing.T) {
	buf := captureOutput(t, LevelInfo)

	Summary("run abc: best (3,4)")

	if !strings.Contains(buf.String(), "run abc: best (3,4)") {
		t.Errorf("summary missing: %q", buf.String())
	}
}

// lockedBuffer is written by the logrus pipe goroutine and read by the test.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLogger_WriterLevel(t *testing.T) {
	captureOutput(t, LevelOff)
	var buf lockedBuffer
	SetOutput(&buf)

	w := Logger().WriterLevel(logrus.WarnLevel)
	if _, err := w.Write([]byte("http: TLS handshake error\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.Close()

	deadline := time.Now().Add(time.Second)
	for !strings.Contains(buf.String(), "TLS handshake error") {
		if time.Now().After(deadline) {
			t.Fatalf("warning missing: %q", buf.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
