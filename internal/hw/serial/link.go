// Package serial provides the line-oriented request/response channel used
// to talk to the shaker and stepper microcontrollers.
package serial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mikesmithlab/shaker/internal/debug"
)

var (
	// ErrCommunication marks a failed serial write or read. It is fatal for
	// the operation that issued it.
	ErrCommunication = errors.New("serial communication failed")

	// ErrTimeout is returned by ReadLine when no complete line arrived
	// within the port's read timeout.
	ErrTimeout = errors.New("serial read timed out")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("serial link closed")
)

// Link is a framed line channel to a microcontroller.
type Link interface {
	// SendLine writes s followed by a newline.
	SendLine(s string) error
	// ReadLine returns the next line without its terminator.
	ReadLine() (string, error)
	// Drain discards any pending input.
	Drain() error
	// Close releases the underlying port.
	Close() error
}

// PortLink implements Link over a Porter.
type PortLink struct {
	name string
	port Porter

	mu      sync.Mutex
	pending []byte
	closed  bool
}

// NewPortLink wraps an already open port. name is used in logs only.
func NewPortLink(name string, port Porter) *PortLink {
	return &PortLink{name: name, port: port}
}

// Name returns the port name.
func (l *PortLink) Name() string {
	return l.name
}

// SendLine implements Link.
func (l *PortLink) SendLine(s string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("%w: %w", ErrCommunication, ErrClosed)
	}

	line := strings.TrimRight(s, "\r\n") + "\n"
	debug.Serial("tx", l.name, line)
	n, err := l.port.Write([]byte(line))
	if err != nil {
		return fmt.Errorf("%w: write %q to %s: %v", ErrCommunication, s, l.name, err)
	}
	if n != len(line) {
		return fmt.Errorf("%w: short write to %s (%d of %d bytes)", ErrCommunication, l.name, n, len(line))
	}
	return nil
}

// ReadLine implements Link. A read that returns no data is treated as the
// port's read timeout expiring.
func (l *PortLink) ReadLine() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", fmt.Errorf("%w: %w", ErrCommunication, ErrClosed)
	}

	buf := make([]byte, 128)
	for {
		if i := bytes.IndexByte(l.pending, '\n'); i >= 0 {
			line := string(bytes.TrimRight(l.pending[:i], "\r"))
			l.pending = l.pending[i+1:]
			debug.Serial("rx", l.name, line)
			return line, nil
		}

		n, err := l.port.Read(buf)
		if n > 0 {
			l.pending = append(l.pending, buf[:n]...)
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: read from %s: %v", ErrCommunication, l.name, err)
		}
		return "", ErrTimeout
	}
}

// Drain implements Link.
func (l *PortLink) Drain() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("%w: %w", ErrCommunication, ErrClosed)
	}

	if len(l.pending) > 0 {
		debug.Serial("drop", l.name, string(l.pending))
	}
	l.pending = nil

	if r, ok := l.port.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			return fmt.Errorf("%w: reset input of %s: %v", ErrCommunication, l.name, err)
		}
		return nil
	}

	buf := make([]byte, 128)
	for {
		n, err := l.port.Read(buf)
		if n > 0 {
			debug.Serial("drop", l.name, string(buf[:n]))
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: drain %s: %v", ErrCommunication, l.name, err)
		}
		return nil
	}
}

// Close implements Link. Closing twice is a no-op.
func (l *PortLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	debug.Trace("serial %s closed", l.name)
	return l.port.Close()
}
