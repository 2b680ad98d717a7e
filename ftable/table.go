// Package ftable holds the column ordered, row major table that historical
// and online retrieval return and that historical retrieval accepts as the
// entity spine.
package ftable

import (
	"github.com/featstore/featstore-go/errors"
)

type Table struct {
	columns []string
	index   map[string]int
	rows    [][]interface{}
}

func New(columns ...string) (*Table, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if c == "" {
			return nil, errors.New("table column name must not be empty")
		}
		if _, ok := index[c]; ok {
			return nil, errors.Newf("duplicate table column %q", c)
		}
		index[c] = i
	}
	return &Table{
		columns: append([]string(nil), columns...),
		index:   index,
	}, nil
}

// MustNew is for tests and literals with known good column lists.
func MustNew(columns ...string) *Table {
	t, err := New(columns...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

func (t *Table) NumColumns() int { return len(t.columns) }

func (t *Table) NumRows() int { return len(t.rows) }

func (t *Table) ColumnIndex(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

func (t *Table) AppendRow(values ...interface{}) error {
	if len(values) != len(t.columns) {
		return errors.Newf("row has %d values, table has %d columns", len(values), len(t.columns))
	}
	t.rows = append(t.rows, append([]interface{}(nil), values...))
	return nil
}

// Row returns the backing slice for row i. Callers must not modify it.
func (t *Table) Row(i int) []interface{} {
	return t.rows[i]
}

func (t *Table) Value(row int, column string) (interface{}, bool) {
	i, ok := t.index[column]
	if !ok {
		return nil, false
	}
	return t.rows[row][i], true
}

// ToMaps flattens the table into one map per row. Intended for callers that
// prefer convenience over allocation count.
func (t *Table) ToMaps() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(t.rows))
	for _, row := range t.rows {
		m := make(map[string]interface{}, len(t.columns))
		for i, c := range t.columns {
			m[c] = row[i]
		}
		out = append(out, m)
	}
	return out
}

// FromMaps builds a table with the given column order from map rows. Missing
// keys become nil values.
func FromMaps(columns []string, rows []map[string]interface{}) (*Table, error) {
	t, err := New(columns...)
	if err != nil {
		return nil, err
	}
	for _, m := range rows {
		values := make([]interface{}, len(columns))
		for i, c := range columns {
			values[i] = m[c]
		}
		if err := t.AppendRow(values...); err != nil {
			return nil, err
		}
	}
	return t, nil
}
