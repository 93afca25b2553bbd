package triallog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_AppendThenReadAll(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "nested", "track_level.txt"))

	rows := []Row{
		{X: 10, Y: -20, Cost: 12.5, Fluctuation: 0.75},
		{X: 0, Y: 0, Cost: 3, Fluctuation: 0},
		{X: -100, Y: 100, Cost: 0.125, Fluctuation: 1e-6},
	}
	for _, r := range rows {
		require.NoError(t, l.Append(r))
	}

	got, err := l.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, rows, got)

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Equal(t, "10,-20,12.5,0.75\n0,0,3,0\n-100,100,0.125,1e-06\n", string(data))
}

func TestLog_AppendNeverRewrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	require.NoError(t, os.WriteFile(path, []byte("1,2,3,4\n"), 0o644))

	l := New(path)
	require.NoError(t, l.Append(Row{X: 5, Y: 6, Cost: 7, Fluctuation: 8}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "1,2,3,4\n"))
}

func TestLog_MissingFile(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "none.csv"))

	rows, err := l.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = l.Last()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestLog_Last(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "log.csv"))
	require.NoError(t, l.Append(Row{X: 1, Y: 1, Cost: 9}))
	require.NoError(t, l.Append(Row{X: 2, Y: 3, Cost: 4}))

	last, err := l.Last()
	require.NoError(t, err)
	assert.Equal(t, Row{X: 2, Y: 3, Cost: 4}, last)
}

func TestParse_ScientificNotation(t *testing.T) {
	in := "5.000000000000000000e+01,-1.000000000000000000e+02,2.5e+00,1.0e-01\n"
	rows, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []Row{{X: 50, Y: -100, Cost: 2.5, Fluctuation: 0.1}}, rows)
}

func TestParse_MalformedRowNamesLine(t *testing.T) {
	in := "1,2,3,4\n1,two,3,4\n"
	_, err := Parse(strings.NewReader(in))
	assert.ErrorContains(t, err, "line 2")
}

func TestParse_WrongFieldCount(t *testing.T) {
	_, err := Parse(strings.NewReader("1,2,3\n"))
	assert.Error(t, err)
}
