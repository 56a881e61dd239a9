package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream is a slice-backed RowStream for tests.
type fakeStream struct {
	rows []map[string]any
	pos  int
	err  error
}

func (f *fakeStream) Next() bool {
	if f.pos >= len(f.rows) {
		return false
	}
	f.pos++
	return true
}

func (f *fakeStream) Values() (map[string]any, error) {
	return f.rows[f.pos-1], nil
}

func (f *fakeStream) Err() error { return f.err }

func TestPeekingRows_NextAndValue(t *testing.T) {
	rows := NewPeekingRows(&fakeStream{rows: []map[string]any{
		{"id": int64(1)},
		{"id": int64(2)},
	}})

	require.True(t, rows.Next())
	v, err := rows.Value("id")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	require.True(t, rows.Next())
	v, err = rows.Value("id")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	assert.False(t, rows.Next())
	assert.NoError(t, rows.Err())
}

func TestPeekingRows_PeekDoesNotConsume(t *testing.T) {
	rows := NewPeekingRows(&fakeStream{rows: []map[string]any{
		{"id": int64(1)},
		{"id": int64(2)},
	}})

	require.True(t, rows.Next())

	next, has, err := rows.Peek("id")
	require.NoError(t, err)
	require.True(t, has)
	assert.Equal(t, int64(2), next)

	// Repeated peeks return the same cached row.
	next, has, err = rows.Peek("id")
	require.NoError(t, err)
	require.True(t, has)
	assert.Equal(t, int64(2), next)

	// The current row is unchanged.
	v, err := rows.Value("id")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	// Next consumes the cached lookahead row.
	require.True(t, rows.Next())
	v, err = rows.Value("id")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	assert.False(t, rows.Next())
}

func TestPeekingRows_PeekAtEnd(t *testing.T) {
	rows := NewPeekingRows(&fakeStream{rows: []map[string]any{
		{"id": int64(1)},
	}})

	require.True(t, rows.Next())
	_, has, err := rows.Peek("id")
	require.NoError(t, err)
	assert.False(t, has)

	// Next after an exhausted peek reports no more rows.
	assert.False(t, rows.Next())
}

func TestPeekingRows_MissingColumn(t *testing.T) {
	rows := NewPeekingRows(&fakeStream{rows: []map[string]any{
		{"id": int64(1)},
		{"id": int64(2)},
	}})

	require.True(t, rows.Next())

	_, err := rows.Value("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")

	_, has, err := rows.Peek("missing")
	require.Error(t, err)
	assert.True(t, has)
}

func TestPeekingRows_NoCurrentRow(t *testing.T) {
	rows := NewPeekingRows(&fakeStream{})
	_, err := rows.Value("id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no current row")
}

func TestPeekingRows_StreamError(t *testing.T) {
	streamErr := errors.New("connection lost")
	rows := NewPeekingRows(&fakeStream{
		rows: []map[string]any{{"id": int64(1)}},
		err:  streamErr,
	})

	require.True(t, rows.Next())
	assert.False(t, rows.Next())
	assert.ErrorIs(t, rows.Err(), streamErr)
}
