// Package core provides the dataset model shared by every QC operation:
// intensity matrices, schema-on-read metadata tables, masks and validation.
package core

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Matrix is a dense row-major samples × features matrix. Entries may be
// finite, -Inf (below LLOQ), +Inf (above ULOQ) or NaN (missing).
//
// Matrix satisfies mat.Matrix so it can be handed to gonum directly, but
// unlike mat.Dense it permits zero rows or columns.
type Matrix struct {
	rows, cols int
	data       []float64
}

// NewMatrix creates a rows × cols matrix backed by data. A nil data slice
// allocates a zero matrix. The matrix takes ownership of data.
func NewMatrix(rows, cols int, data []float64) *Matrix {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("core: negative matrix dimension %d×%d", rows, cols))
	}
	if data == nil {
		data = make([]float64, rows*cols)
	}
	if len(data) != rows*cols {
		panic(fmt.Sprintf("core: matrix data length %d does not match %d×%d", len(data), rows, cols))
	}
	return &Matrix{rows: rows, cols: cols, data: data}
}

// NewMatrixFilled creates a rows × cols matrix with every entry set to v.
func NewMatrixFilled(rows, cols int, v float64) *Matrix {
	m := NewMatrix(rows, cols, nil)
	for i := range m.data {
		m.data[i] = v
	}
	return m
}

// MatrixFromRows builds a matrix from a slice of equally long rows.
func MatrixFromRows(rows [][]float64) (*Matrix, error) {
	if len(rows) == 0 {
		return NewMatrix(0, 0, nil), nil
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("%w: row %d has %d columns, expected %d", ErrShapeMismatch, i, len(r), cols)
		}
		data = append(data, r...)
	}
	return NewMatrix(len(rows), cols, data), nil
}

// Dims returns the number of rows and columns.
func (m *Matrix) Dims() (int, int) { return m.rows, m.cols }

// At returns the entry at row i, column j.
func (m *Matrix) At(i, j int) float64 {
	m.check(i, j)
	return m.data[i*m.cols+j]
}

// T returns the transpose view.
func (m *Matrix) T() mat.Matrix { return mat.Transpose{Matrix: m} }

// Set sets the entry at row i, column j.
func (m *Matrix) Set(i, j int, v float64) {
	m.check(i, j)
	m.data[i*m.cols+j] = v
}

func (m *Matrix) check(i, j int) {
	if i < 0 || i >= m.rows {
		panic(mat.ErrRowAccess)
	}
	if j < 0 || j >= m.cols {
		panic(mat.ErrColAccess)
	}
}

// Row returns a copy of row i.
func (m *Matrix) Row(i int) []float64 {
	return mat.Row(nil, i, m)
}

// Col returns a copy of column j.
func (m *Matrix) Col(j int) []float64 {
	return mat.Col(nil, j, m)
}

// RawRow returns row i without copying. Writes go through to the matrix.
func (m *Matrix) RawRow(i int) []float64 {
	if i < 0 || i >= m.rows {
		panic(mat.ErrRowAccess)
	}
	return m.data[i*m.cols : (i+1)*m.cols : (i+1)*m.cols]
}

// SetCol overwrites column j with v.
func (m *Matrix) SetCol(j int, v []float64) {
	if len(v) != m.rows {
		panic(mat.ErrShape)
	}
	for i, x := range v {
		m.Set(i, j, x)
	}
}

// SetRow overwrites row i with v.
func (m *Matrix) SetRow(i int, v []float64) {
	if len(v) != m.cols {
		panic(mat.ErrShape)
	}
	copy(m.RawRow(i), v)
}

// Copy returns a deep copy.
func (m *Matrix) Copy() *Matrix {
	if m == nil {
		return nil
	}
	data := make([]float64, len(m.data))
	copy(data, m.data)
	return NewMatrix(m.rows, m.cols, data)
}

// SelectRows returns a new matrix holding the rows in idx, in that order.
func (m *Matrix) SelectRows(idx []int) *Matrix {
	out := NewMatrix(len(idx), m.cols, nil)
	for k, i := range idx {
		copy(out.RawRow(k), m.RawRow(i))
	}
	return out
}

// SelectCols returns a new matrix holding the columns in idx, in that order.
// A negative index yields a column of NaN.
func (m *Matrix) SelectCols(idx []int) *Matrix {
	out := NewMatrix(m.rows, len(idx), nil)
	for i := 0; i < m.rows; i++ {
		src := m.RawRow(i)
		dst := out.RawRow(i)
		for k, j := range idx {
			if j < 0 {
				dst[k] = nan
				continue
			}
			dst[k] = src[j]
		}
	}
	return out
}

// AppendRows stacks other below m and returns the result.
func (m *Matrix) AppendRows(other *Matrix) (*Matrix, error) {
	if m.cols != other.cols && m.rows > 0 && other.rows > 0 {
		return nil, fmt.Errorf("%w: cannot stack %d columns on %d columns", ErrShapeMismatch, other.cols, m.cols)
	}
	cols := m.cols
	if m.rows == 0 {
		cols = other.cols
	}
	data := make([]float64, 0, len(m.data)+len(other.data))
	data = append(data, m.data...)
	data = append(data, other.data...)
	return NewMatrix(m.rows+other.rows, cols, data), nil
}

// Dense returns the matrix as a mat.Dense, or nil when either dimension is
// zero.
func (m *Matrix) Dense() *mat.Dense {
	if m.rows == 0 || m.cols == 0 {
		return nil
	}
	data := make([]float64, len(m.data))
	copy(data, m.data)
	return mat.NewDense(m.rows, m.cols, data)
}
