package web

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mikesmithlab/shaker/internal/logic/balance"
)

// Event levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
	LevelDebug = "debug"
	LevelTrial = "trial"
)

const (
	clientBuffer = 64
	// replayLimit bounds the trial events kept for clients that connect
	// during a run.
	replayLimit = 1000
)

// StatusEvent is one SSE message. Trial is set on "trial" events, one per
// scored optimizer call.
type StatusEvent struct {
	Time  string         `json:"t"`
	Level string         `json:"l,omitempty"`
	Msg   string         `json:"msg"`
	Trial *balance.Trial `json:"trial,omitempty"`
}

// StatusBroadcaster fans status events out to SSE clients. It keeps the
// trial events of the current run so a page opened mid-run can draw the
// whole run.
type StatusBroadcaster struct {
	mu      sync.Mutex
	clients map[chan string]struct{}
	run     string
	trials  []string
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel of JSON events, starting with the trials of
// the current run, and a cleanup function to call on disconnect.
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	b.mu.Lock()
	ch := make(chan string, clientBuffer+len(b.trials))
	for _, e := range b.trials {
		ch <- e
	}
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Broadcast sends a message to every client. A client whose buffer is full
// misses the message.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.send(StatusEvent{
		Time:  time.Now().Format(time.RFC3339),
		Level: level,
		Msg:   msg,
	}, false)
}

// BroadcastTrial publishes a scored trial. It has the shape of
// balance.Balancer.OnTrial. A trial of a new run clears the replay.
func (b *StatusBroadcaster) BroadcastTrial(t balance.Trial) {
	b.send(StatusEvent{
		Time:  t.RecordedAt.Format(time.RFC3339),
		Level: LevelTrial,
		Msg: fmt.Sprintf("trial %d: motors (%d,%d) cost %.2f ± %.2f, batch %d",
			t.Iteration, t.X, t.Y, t.Cost, t.Fluctuation, t.BatchSize),
		Trial: &t,
	}, true)
}

func (b *StatusBroadcaster) send(evt StatusEvent, replay bool) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.Lock()
	defer b.mu.Unlock()
	if replay {
		if evt.Trial.RunID != b.run {
			b.run, b.trials = evt.Trial.RunID, nil
		}
		if len(b.trials) == replayLimit {
			b.trials = b.trials[1:]
		}
		b.trials = append(b.trials, payload)
	}
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// BroadcastWriter returns an io.Writer that turns each log line written to
// it into an event. The serve command tees the debug log into it.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(string(p), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		level, msg := parseLogLine(line)
		w.b.Broadcast(level, msg)
	}
	return len(p), nil
}

// parseLogLine reads a logrus text line (time="..." level=info msg="..."
// key=value...) into an event level and a message that keeps the extra
// fields. Other text is passed through at info level.
func parseLogLine(line string) (string, string) {
	pairs := splitLogfmt(line)
	level, msg, isLog := LevelInfo, "", false
	var fields []string
	for _, kv := range pairs {
		switch kv[0] {
		case "time":
		case "level":
			level, isLog = eventLevel(kv[1]), true
		case "msg":
			msg = kv[1]
		case "":
			fields = append(fields, kv[1])
		default:
			fields = append(fields, kv[0]+"="+kv[1])
		}
	}
	if !isLog {
		return LevelInfo, strings.TrimSpace(line)
	}
	if len(fields) > 0 {
		msg = strings.TrimSpace(msg + " " + strings.Join(fields, " "))
	}
	return level, msg
}

func eventLevel(logrusLevel string) string {
	switch logrusLevel {
	case "warning", "warn":
		return LevelWarn
	case "error", "fatal", "panic":
		return LevelError
	case "debug", "trace":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// splitLogfmt splits key=value pairs, unquoting quoted values. Bare words
// have an empty key.
func splitLogfmt(line string) [][2]string {
	var out [][2]string
	rest := strings.TrimSpace(line)
	for rest != "" {
		eq := strings.IndexByte(rest, '=')
		sp := strings.IndexByte(rest, ' ')
		if eq < 0 || (sp >= 0 && sp < eq) {
			if sp < 0 {
				out = append(out, [2]string{"", rest})
				break
			}
			out = append(out, [2]string{"", rest[:sp]})
			rest = strings.TrimLeft(rest[sp:], " ")
			continue
		}

		key, val := rest[:eq], rest[eq+1:]
		rest = ""
		if strings.HasPrefix(val, `"`) {
			if q, err := strconv.QuotedPrefix(val); err == nil {
				rest = val[len(q):]
				val, _ = strconv.Unquote(q)
			}
		} else if i := strings.IndexByte(val, ' '); i >= 0 {
			val, rest = val[:i], val[i:]
		}
		out = append(out, [2]string{key, val})
		rest = strings.TrimLeft(rest, " ")
	}
	return out
}
