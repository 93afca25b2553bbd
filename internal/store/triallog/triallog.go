// Package triallog is the append-only levelling audit log: one CSV row
// motor_x,motor_y,cost,fluctuation per trial, without a header.
package triallog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// ErrEmpty is returned by Last on a missing or empty log.
var ErrEmpty = errors.New("trial log is empty")

// Row is one logged trial.
type Row struct {
	X           int     `json:"motor_x"`
	Y           int     `json:"motor_y"`
	Cost        float64 `json:"cost"`
	Fluctuation float64 `json:"fluctuation"`
}

// Log appends rows to a file. Every Append opens, writes and syncs so a
// crash loses at most the row being written.
type Log struct {
	path string
	mu   sync.Mutex
}

// New returns a log at path. The file is created on the first Append.
func New(path string) *Log {
	return &Log{path: path}
}

// Path returns the file path.
func (l *Log) Path() string { return l.path }

// Append writes r as a new row.
func (l *Log) Append(r Row) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	werr := w.Write([]string{
		strconv.Itoa(r.X),
		strconv.Itoa(r.Y),
		strconv.FormatFloat(r.Cost, 'g', -1, 64),
		strconv.FormatFloat(r.Fluctuation, 'g', -1, 64),
	})
	if werr == nil {
		w.Flush()
		werr = w.Error()
	}
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("append %s: %w", l.path, werr)
	}
	return nil
}

// ReadAll returns every row in file order. A missing file has no rows.
func (l *Log) ReadAll() ([]Row, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Last returns the most recent row, for warm starting a run.
func (l *Log) Last() (Row, error) {
	rows, err := l.ReadAll()
	if err != nil {
		return Row{}, err
	}
	if len(rows) == 0 {
		return Row{}, ErrEmpty
	}
	return rows[len(rows)-1], nil
}

// Parse reads rows from r. Positions written in scientific notation by
// older tools are accepted and rounded.
func Parse(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 4
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var rows []Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)

		var v [4]float64
		for i, s := range rec {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d, column %d: %w", line, i+1, err)
			}
			v[i] = f
		}
		rows = append(rows, Row{
			X:           int(math.Round(v[0])),
			Y:           int(math.Round(v[1])),
			Cost:        v[2],
			Fluctuation: v[3],
		})
	}
}
