package motion

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/mikesmithlab/shaker/internal/fsutil"
)

// PositionStore persists the motor position across restarts.
type PositionStore interface {
	// Load returns the saved position, or (0,0) if none was saved.
	Load() (Position, error)
	Save(p Position) error
}

// FilePositionStore keeps the position as "x,y" in a text file.
type FilePositionStore struct {
	path string
}

// NewFilePositionStore returns a store backed by path.
func NewFilePositionStore(path string) *FilePositionStore {
	return &FilePositionStore{path: path}
}

// Load implements PositionStore.
func (s *FilePositionStore) Load() (Position, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Position{}, nil
	}
	if err != nil {
		return Position{}, err
	}
	return ParsePosition(string(data))
}

// Save implements PositionStore. The file is replaced atomically.
func (s *FilePositionStore) Save(p Position) error {
	return fsutil.WriteFileAtomic(s.path, []byte(FormatPosition(p)), 0o644)
}

// ParsePosition reads "x,y".
func ParsePosition(s string) (Position, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return Position{}, fmt.Errorf("malformed position %q: want x,y", s)
	}
	x, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Position{}, fmt.Errorf("malformed position x %q: %w", parts[0], err)
	}
	y, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Position{}, fmt.Errorf("malformed position y %q: %w", parts[1], err)
	}
	return Position{X: x, Y: y}, nil
}

// FormatPosition writes "x,y".
func FormatPosition(p Position) string {
	return strconv.Itoa(p.X) + "," + strconv.Itoa(p.Y)
}

// MemoryPositionStore is a PositionStore for tests and dry runs.
type MemoryPositionStore struct {
	mu    sync.Mutex
	pos   Position
	saves int
	// Err, if set, is returned by Save.
	Err error
}

// Load implements PositionStore.
func (m *MemoryPositionStore) Load() (Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos, nil
}

// Save implements PositionStore.
func (m *MemoryPositionStore) Save(p Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.pos = p
	m.saves++
	return nil
}

// Saves returns the number of successful saves.
func (m *MemoryPositionStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
