// Package extract reconstructs aggregate instances from the flattened,
// ordered result set produced by executing the rendered aggregate query.
// Extraction is a single pass with one row of lookahead: group boundaries
// are detected by peeking at the next row's id without consuming it.
package extract

import (
	"fmt"

	"aggload/internal/dbexec"
)

// PeekingRows wraps a forward-only row stream with one row of lookahead.
// Peek reads one row ahead and caches it; the following Next consumes
// the cached row instead of advancing the underlying stream again. At
// most one row of lookahead is ever held.
type PeekingRows struct {
	stream dbexec.RowStream

	current map[string]any
	cached  map[string]any
	peeking bool
	peekHas bool
	err     error
}

// NewPeekingRows wraps a row stream.
func NewPeekingRows(stream dbexec.RowStream) *PeekingRows {
	return &PeekingRows{stream: stream}
}

// Next advances to the next row, consuming a cached lookahead row first
// if one is held.
func (p *PeekingRows) Next() bool {
	if p.err != nil {
		return false
	}
	if p.peeking {
		p.peeking = false
		if !p.peekHas {
			p.current = nil
			return false
		}
		p.current = p.cached
		p.cached = nil
		return true
	}
	if !p.stream.Next() {
		p.current = nil
		return false
	}
	values, err := p.stream.Values()
	if err != nil {
		p.err = err
		return false
	}
	p.current = values
	return true
}

// Value returns the named column of the current row. Accessing a column
// the result set does not carry is an error; the caller decides whether
// that is fatal.
func (p *PeekingRows) Value(alias string) (any, error) {
	if p.current == nil {
		return nil, fmt.Errorf("extract: no current row")
	}
	value, ok := p.current[alias]
	if !ok {
		return nil, fmt.Errorf("extract: result set has no column %q", alias)
	}
	return value, nil
}

// Row returns the current row snapshot.
func (p *PeekingRows) Row() map[string]any { return p.current }

// Peek returns the named column of the next row without consuming it.
// The second result reports whether a next row exists at all.
func (p *PeekingRows) Peek(alias string) (any, bool, error) {
	if p.err != nil {
		return nil, false, p.err
	}
	if !p.peeking {
		p.peeking = true
		p.peekHas = p.stream.Next()
		if p.peekHas {
			values, err := p.stream.Values()
			if err != nil {
				p.err = err
				return nil, false, err
			}
			p.cached = values
		}
	}
	if !p.peekHas {
		return nil, false, nil
	}
	value, ok := p.cached[alias]
	if !ok {
		return nil, true, fmt.Errorf("extract: result set has no column %q", alias)
	}
	return value, true, nil
}

// Err surfaces any error from the underlying stream.
func (p *PeekingRows) Err() error {
	if p.err != nil {
		return p.err
	}
	return p.stream.Err()
}
