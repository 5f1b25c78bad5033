package core

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the layout used to read and write timestamps.
const TimeLayout = "2006-01-02 15:04:05"

// ColumnKind is the storage type of a table column.
type ColumnKind int

// Column kinds
const (
	KindFloat ColumnKind = iota
	KindString
	KindTime
)

type column struct {
	kind    ColumnKind
	floats  []float64
	strings []string
	times   []time.Time
}

func (c *column) copy() *column {
	return &column{
		kind:    c.kind,
		floats:  slices.Clone(c.floats),
		strings: slices.Clone(c.strings),
		times:   slices.Clone(c.times),
	}
}

func (c *column) text(i int) string {
	switch c.kind {
	case KindFloat:
		return formatFloat(c.floats[i])
	case KindTime:
		if c.times[i].IsZero() {
			return ""
		}
		return c.times[i].Format(TimeLayout)
	default:
		return c.strings[i]
	}
}

// Table is an ordered set of named, equally long columns. Columns are typed
// on read: required columns are looked up by name and anything else is
// carried through operations untouched.
type Table struct {
	rows  int
	names []string
	cols  map[string]*column
}

// NewTable creates an empty table with the given number of rows.
func NewTable(rows int) *Table {
	return &Table{rows: rows, cols: make(map[string]*column)}
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return t.rows }

// Columns returns the column names in order.
func (t *Table) Columns() []string { return slices.Clone(t.names) }

// Has reports whether the column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.cols[name]
	return ok
}

// Kind returns the storage kind of a column.
func (t *Table) Kind(name string) (ColumnKind, bool) {
	c, ok := t.cols[name]
	if !ok {
		return 0, false
	}
	return c.kind, true
}

func (t *Table) get(name string) (*column, error) {
	c, ok := t.cols[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
	}
	return c, nil
}

// Float returns a copy of a numeric column. Text columns are parsed; empty
// cells become NaN.
func (t *Table) Float(name string) ([]float64, error) {
	c, err := t.get(name)
	if err != nil {
		return nil, err
	}
	switch c.kind {
	case KindFloat:
		return slices.Clone(c.floats), nil
	case KindString:
		out := make([]float64, t.rows)
		for i, s := range c.strings {
			v, err := parseFloat(s)
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", name, i, err)
			}
			out[i] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("column %q holds timestamps, not numbers", name)
	}
}

// String returns a copy of a column as text.
func (t *Table) String(name string) ([]string, error) {
	c, err := t.get(name)
	if err != nil {
		return nil, err
	}
	if c.kind == KindString {
		return slices.Clone(c.strings), nil
	}
	out := make([]string, t.rows)
	for i := range out {
		out[i] = c.text(i)
	}
	return out, nil
}

// Time returns a copy of a timestamp column. Text columns are parsed.
func (t *Table) Time(name string) ([]time.Time, error) {
	c, err := t.get(name)
	if err != nil {
		return nil, err
	}
	switch c.kind {
	case KindTime:
		return slices.Clone(c.times), nil
	case KindString:
		out := make([]time.Time, t.rows)
		for i, s := range c.strings {
			ts, err := parseTime(s)
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", name, i, err)
			}
			out[i] = ts
		}
		return out, nil
	default:
		return nil, fmt.Errorf("column %q holds numbers, not timestamps", name)
	}
}

// Text returns the value of one cell as text.
func (t *Table) Text(name string, row int) string {
	c, ok := t.cols[name]
	if !ok {
		return ""
	}
	return c.text(row)
}

func (t *Table) set(name string, c *column, n int) error {
	if n != t.rows {
		return fmt.Errorf("%w: column %q has %d values, table has %d rows", ErrShapeMismatch, name, n, t.rows)
	}
	if _, ok := t.cols[name]; !ok {
		t.names = append(t.names, name)
	}
	t.cols[name] = c
	return nil
}

// SetFloat adds or replaces a numeric column.
func (t *Table) SetFloat(name string, v []float64) error {
	return t.set(name, &column{kind: KindFloat, floats: slices.Clone(v)}, len(v))
}

// SetString adds or replaces a text column.
func (t *Table) SetString(name string, v []string) error {
	return t.set(name, &column{kind: KindString, strings: slices.Clone(v)}, len(v))
}

// SetTime adds or replaces a timestamp column.
func (t *Table) SetTime(name string, v []time.Time) error {
	return t.set(name, &column{kind: KindTime, times: slices.Clone(v)}, len(v))
}

// Drop removes a column if present.
func (t *Table) Drop(name string) {
	if _, ok := t.cols[name]; !ok {
		return
	}
	delete(t.cols, name)
	t.names = slices.DeleteFunc(t.names, func(n string) bool { return n == name })
}

// Rename renames a column, keeping its position.
func (t *Table) Rename(from, to string) error {
	c, err := t.get(from)
	if err != nil {
		return err
	}
	if from == to {
		return nil
	}
	if t.Has(to) {
		return fmt.Errorf("cannot rename %q: column %q already exists", from, to)
	}
	delete(t.cols, from)
	t.cols[to] = c
	t.names[slices.Index(t.names, from)] = to
	return nil
}

// Copy returns a deep copy.
func (t *Table) Copy() *Table {
	if t == nil {
		return nil
	}
	out := NewTable(t.rows)
	out.names = slices.Clone(t.names)
	for name, c := range t.cols {
		out.cols[name] = c.copy()
	}
	return out
}

// SelectRows returns a new table holding the rows in idx, in that order. A
// negative index yields an empty row: NaN, "" or the zero time.
func (t *Table) SelectRows(idx []int) *Table {
	out := NewTable(len(idx))
	out.names = slices.Clone(t.names)
	for name, c := range t.cols {
		nc := &column{kind: c.kind}
		switch c.kind {
		case KindFloat:
			nc.floats = make([]float64, len(idx))
			for k, i := range idx {
				nc.floats[k] = nan
				if i >= 0 {
					nc.floats[k] = c.floats[i]
				}
			}
		case KindString:
			nc.strings = make([]string, len(idx))
			for k, i := range idx {
				if i >= 0 {
					nc.strings[k] = c.strings[i]
				}
			}
		case KindTime:
			nc.times = make([]time.Time, len(idx))
			for k, i := range idx {
				if i >= 0 {
					nc.times[k] = c.times[i]
				}
			}
		}
		out.cols[name] = nc
	}
	return out
}

// ConcatRows stacks b below a. The result carries the union of columns, a's
// first; cells absent on one side are NaN, empty or the zero time. Columns
// whose kinds differ between the two sides are stored as text.
func ConcatRows(a, b *Table) *Table {
	out := NewTable(a.rows + b.rows)
	names := slices.Clone(a.names)
	for _, n := range b.names {
		if !a.Has(n) {
			names = append(names, n)
		}
	}
	out.names = names

	for _, name := range names {
		ca, okA := a.cols[name]
		cb, okB := b.cols[name]
		kind := KindString
		switch {
		case okA && okB && ca.kind == cb.kind:
			kind = ca.kind
		case okA && !okB:
			kind = ca.kind
		case !okA && okB:
			kind = cb.kind
		}

		nc := &column{kind: kind}
		appendSide := func(c *column, n int) {
			for i := 0; i < n; i++ {
				switch kind {
				case KindFloat:
					v := nan
					if c != nil {
						v = c.floats[i]
					}
					nc.floats = append(nc.floats, v)
				case KindTime:
					var v time.Time
					if c != nil {
						v = c.times[i]
					}
					nc.times = append(nc.times, v)
				default:
					v := ""
					if c != nil {
						v = c.text(i)
					}
					nc.strings = append(nc.strings, v)
				}
			}
		}
		appendSide(ca, a.rows)
		appendSide(cb, b.rows)
		out.cols[name] = nc
	}
	return out
}

// ReadTableCSV reads a table with a header row. Each column is stored as a
// number when every non-empty cell parses as one, as a timestamp when every
// non-empty cell parses as TimeLayout or RFC 3339, and as text otherwise.
// Well-known identifier and enum columns, and any named in textCols, are
// always text.
func ReadTableCSV(r io.Reader, textCols ...string) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("error reading CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("error reading CSV: no header line")
	}

	header := records[0]
	body := records[1:]
	for i, rec := range body {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("line %d: expected %d fields, got %d", i+2, len(header), len(rec))
		}
	}

	forced := append(slices.Clone(stringColumns), textCols...)
	t := NewTable(len(body))
	for j, name := range header {
		name = strings.TrimSpace(name)
		cells := make([]string, len(body))
		for i, rec := range body {
			cells[i] = rec[j]
		}
		if t.Has(name) {
			return nil, fmt.Errorf("duplicate column %q in CSV header", name)
		}
		if slices.Contains(forced, name) {
			t.SetString(name, cells)
			continue
		}
		if v, ok := inferFloats(cells); ok {
			t.SetFloat(name, v)
			continue
		}
		if v, ok := inferTimes(cells); ok {
			t.SetTime(name, v)
			continue
		}
		t.SetString(name, cells)
	}
	return t, nil
}

// WriteCSV writes the table with a header row.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.names); err != nil {
		return err
	}
	rec := make([]string, len(t.names))
	for i := 0; i < t.rows; i++ {
		for j, name := range t.names {
			rec[j] = t.cols[name].text(i)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func inferFloats(cells []string) ([]float64, bool) {
	out := make([]float64, len(cells))
	for i, s := range cells {
		v, err := parseFloat(s)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func inferTimes(cells []string) ([]time.Time, bool) {
	out := make([]time.Time, len(cells))
	seen := false
	for i, s := range cells {
		ts, err := parseTime(s)
		if err != nil {
			return nil, false
		}
		if !ts.IsZero() {
			seen = true
		}
		out[i] = ts
	}
	return out, seen
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nan, nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(TimeLayout, s); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, s)
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
