package dbexec

import "fmt"

// RowStream is a forward-only stream over a query result, exposing each
// row as a snapshot keyed by column alias. It is non-rewindable; callers
// needing lookahead wrap it rather than re-reading.
type RowStream interface {
	Next() bool
	// Values returns the current row keyed by column alias. The returned
	// map is a stable snapshot: advancing the stream does not mutate it.
	Values() (map[string]any, error)
	Err() error
}

// SQLRowStream adapts Rows to RowStream, scanning each row into a fresh
// alias-keyed map.
type SQLRowStream struct {
	rows    Rows
	columns []string
	current map[string]any
	err     error
}

// NewRowStream wraps a Rows cursor. The cursor's lifetime (Close) stays
// with the caller.
func NewRowStream(rows Rows) *SQLRowStream {
	return &SQLRowStream{rows: rows}
}

func (s *SQLRowStream) Next() bool {
	if s.err != nil {
		return false
	}
	if !s.rows.Next() {
		return false
	}
	s.current = nil
	return true
}

func (s *SQLRowStream) Values() (map[string]any, error) {
	if s.current != nil {
		return s.current, nil
	}
	if s.columns == nil {
		cols, err := s.rows.Columns()
		if err != nil {
			s.err = fmt.Errorf("dbexec: reading result columns: %w", err)
			return nil, s.err
		}
		s.columns = cols
	}
	holders := make([]any, len(s.columns))
	for i := range holders {
		holders[i] = new(any)
	}
	if err := s.rows.Scan(holders...); err != nil {
		s.err = fmt.Errorf("dbexec: scanning row: %w", err)
		return nil, s.err
	}
	row := make(map[string]any, len(s.columns))
	for i, col := range s.columns {
		value := *(holders[i].(*any))
		// Drivers may reuse byte buffers between rows; copy them out.
		if b, ok := value.([]byte); ok {
			value = string(b)
		}
		row[col] = value
	}
	s.current = row
	return row, nil
}

func (s *SQLRowStream) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.rows.Err()
}
