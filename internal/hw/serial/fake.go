package serial

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"time"
)

// TestablePort implements Porter with configurable behaviour for tests.
// An empty read buffer behaves like an expired read timeout.
type TestablePort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls.
	ReadBuffer *bytes.Buffer
	// WriteBuffer captures data written to the port.
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set.
	ReadError error
	// WriteError is returned by the next Write call if set.
	WriteError error
	// CloseError is returned by Close if set.
	CloseError error

	Closed      bool
	ReadCalls   int
	WriteCalls  int
	ReadTimeout time.Duration
}

// NewTestablePort creates an empty TestablePort.
func NewTestablePort() *TestablePort {
	return &TestablePort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
}

// Read implements io.Reader.
func (t *TestablePort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++
	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	if t.ReadBuffer.Len() == 0 {
		return 0, nil
	}
	return t.ReadBuffer.Read(p)
}

// Write implements io.Writer.
func (t *TestablePort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++
	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	return t.WriteBuffer.Write(p)
}

// Close implements io.Closer.
func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	return t.CloseError
}

// SetReadTimeout records the timeout.
func (t *TestablePort) SetReadTimeout(d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadTimeout = d
	return nil
}

// Feed queues data for subsequent reads.
func (t *TestablePort) Feed(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadBuffer.WriteString(s)
}

// Written returns everything written so far.
func (t *TestablePort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.WriteBuffer.String()
}

// Responder produces the reply lines for one received command line.
type Responder func(line string) []string

// ScriptedDevice is a Porter that emulates a line-oriented microcontroller.
// Each complete line written is recorded and passed to the Responder, whose
// replies are queued for reading with CRLF terminators.
type ScriptedDevice struct {
	mu       sync.Mutex
	respond  Responder
	partial  []byte
	out      bytes.Buffer
	lines    []string
	closed   bool
	failNext error
}

// NewScriptedDevice returns a device driven by respond. A nil responder
// never answers.
func NewScriptedDevice(respond Responder) *ScriptedDevice {
	return &ScriptedDevice{respond: respond}
}

// Read implements io.Reader. No queued data reads as a timeout.
func (d *ScriptedDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errors.New("device closed")
	}
	if d.out.Len() == 0 {
		return 0, nil
	}
	return d.out.Read(p)
}

// Write implements io.Writer.
func (d *ScriptedDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errors.New("device closed")
	}
	if d.failNext != nil {
		err := d.failNext
		d.failNext = nil
		return 0, err
	}

	d.partial = append(d.partial, p...)
	for {
		i := bytes.IndexByte(d.partial, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(d.partial[:i]), "\r")
		d.partial = d.partial[i+1:]
		d.lines = append(d.lines, line)
		if d.respond != nil {
			for _, r := range d.respond(line) {
				d.out.WriteString(r + "\r\n")
			}
		}
	}
	return len(p), nil
}

// Close implements io.Closer.
func (d *ScriptedDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Lines returns a copy of the command lines received so far.
func (d *ScriptedDevice) Lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.lines))
	copy(out, d.lines)
	return out
}

// IsClosed reports whether Close was called.
func (d *ScriptedDevice) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// FailNextWrite makes the next Write return err.
func (d *ScriptedDevice) FailNextWrite(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = err
}

// Inject queues an unsolicited line, as a device printing noise would.
func (d *ScriptedDevice) Inject(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out.WriteString(line + "\r\n")
}
