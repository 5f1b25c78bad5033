package core

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestReadTableCSV(t *testing.T) {
	input := `Sample File Name,Run Order,Acquired Time,Dilution,Note
a,0,2024-03-01 09:00:00,100,x
b,1,2024-03-01 10:00:00,,y
c,2,2024-03-01T11:00:00Z,50,
`
	tbl, err := ReadTableCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadTableCSV() error = %v", err)
	}

	kinds := map[string]ColumnKind{
		ColSampleFileName: KindString,
		ColRunOrder:       KindFloat,
		ColAcquiredTime:   KindTime,
		ColDilution:       KindFloat,
		"Note":            KindString,
	}
	for name, want := range kinds {
		if got, ok := tbl.Kind(name); !ok || got != want {
			t.Errorf("Kind(%q) = %v, %v, want %v", name, got, ok, want)
		}
	}

	dil, _ := tbl.Float(ColDilution)
	if diff := cmp.Diff([]float64{100, math.NaN(), 50}, dil, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("Dilution mismatch (-want +got):\n%s", diff)
	}
	ts, _ := tbl.Time(ColAcquiredTime)
	if want := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC); !ts[2].Equal(want) {
		t.Errorf("Acquired Time[2] = %v, want %v", ts[2], want)
	}
}

func TestReadTableCSVErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"duplicate header", "a,a\n1,2\n"},
		{"ragged", "a,b\n1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadTableCSV(strings.NewReader(tt.input)); err == nil {
				t.Error("ReadTableCSV() error = nil, want error")
			}
		})
	}
}

func TestTableWriteCSVRoundTrip(t *testing.T) {
	tbl := NewTable(2)
	mustSet(t, tbl.SetString(ColFeatureName, []string{"1.5", "glucose"}))
	mustSet(t, tbl.SetFloat(ColLLOQ, []float64{0.25, math.NaN()}))
	mustSet(t, tbl.SetTime(ColAcquiredTime, []time.Time{testStart, {}}))

	var buf bytes.Buffer
	if err := tbl.WriteCSV(&buf); err != nil {
		t.Fatal(err)
	}
	back, err := ReadTableCSV(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(tbl.Columns(), back.Columns()); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
	// Feature Name stays text even when it looks numeric.
	if k, _ := back.Kind(ColFeatureName); k != KindString {
		t.Errorf("Feature Name kind = %v, want text", k)
	}
	for _, name := range tbl.Columns() {
		want, _ := tbl.String(name)
		got, _ := back.String(name)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("column %q mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestTableSetAndRename(t *testing.T) {
	tbl := NewTable(2)
	if err := tbl.SetFloat("x", []float64{1}); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("SetFloat() short column error = %v, want ErrShapeMismatch", err)
	}
	mustSet(t, tbl.SetFloat("x", []float64{1, 2}))
	mustSet(t, tbl.SetString("y", []string{"a", "b"}))
	if err := tbl.Rename("x", "y"); err == nil {
		t.Error("Rename() onto an existing column succeeded")
	}
	mustSet(t, tbl.Rename("x", "z"))
	if diff := cmp.Diff([]string{"z", "y"}, tbl.Columns()); diff != "" {
		t.Errorf("Columns() mismatch (-want +got):\n%s", diff)
	}
	if _, err := tbl.Float("x"); !errors.Is(err, ErrMissingColumn) {
		t.Errorf("Float(missing) error = %v, want ErrMissingColumn", err)
	}
	if _, err := tbl.Float("y"); err == nil {
		t.Error("Float() on non-numeric text succeeded")
	}
}

func TestConcatRows(t *testing.T) {
	a := NewTable(2)
	mustSet(t, a.SetString("name", []string{"a0", "a1"}))
	mustSet(t, a.SetFloat("n", []float64{1, 2}))
	mustSet(t, a.SetFloat("mixed", []float64{1, 2}))

	b := NewTable(1)
	mustSet(t, b.SetString("name", []string{"b0"}))
	mustSet(t, b.SetString("mixed", []string{"high"}))
	mustSet(t, b.SetFloat("only b", []float64{9}))

	got := ConcatRows(a, b)
	if got.NumRows() != 3 {
		t.Fatalf("NumRows() = %d, want 3", got.NumRows())
	}
	if diff := cmp.Diff([]string{"name", "n", "mixed", "only b"}, got.Columns()); diff != "" {
		t.Errorf("Columns() mismatch (-want +got):\n%s", diff)
	}
	n, _ := got.Float("n")
	if diff := cmp.Diff([]float64{1, 2, math.NaN()}, n, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("n mismatch (-want +got):\n%s", diff)
	}
	if k, _ := got.Kind("mixed"); k != KindString {
		t.Errorf("mixed kind = %v, want text", k)
	}
	mixed, _ := got.String("mixed")
	if diff := cmp.Diff([]string{"1", "2", "high"}, mixed); diff != "" {
		t.Errorf("mixed mismatch (-want +got):\n%s", diff)
	}
	onlyB, _ := got.Float("only b")
	if diff := cmp.Diff([]float64{math.NaN(), math.NaN(), 9}, onlyB, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("only b mismatch (-want +got):\n%s", diff)
	}
}

func TestMatrix(t *testing.T) {
	m, err := MatrixFromRows([][]float64{{1, 2, 3}, {4, 5, 6}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := MatrixFromRows([][]float64{{1}, {2, 3}}); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("MatrixFromRows() ragged error = %v, want ErrShapeMismatch", err)
	}

	cols := m.SelectCols([]int{2, -1, 0})
	want := [][]float64{{3, math.NaN(), 1}, {6, math.NaN(), 4}}
	for i := range want {
		if diff := cmp.Diff(want[i], cols.Row(i), cmpopts.EquateNaNs()); diff != "" {
			t.Errorf("SelectCols row %d mismatch (-want +got):\n%s", i, diff)
		}
	}

	stacked, err := m.AppendRows(m.SelectRows([]int{1}))
	if err != nil {
		t.Fatal(err)
	}
	if r, c := stacked.Dims(); r != 3 || c != 3 {
		t.Errorf("AppendRows() dims = %d×%d, want 3×3", r, c)
	}
	if _, err := m.AppendRows(NewMatrix(1, 2, nil)); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("AppendRows() width mismatch error = %v", err)
	}

	empty := NewMatrix(0, 4, nil)
	if empty.Dense() != nil {
		t.Error("Dense() of an empty matrix is not nil")
	}
	if got := m.Dense().At(1, 2); got != 6 {
		t.Errorf("Dense().At(1, 2) = %v, want 6", got)
	}
}

func TestParseEnums(t *testing.T) {
	tests := []struct {
		in      string
		want    SampleType
		wantErr bool
	}{
		{"StudyPool", StudyPool, false},
		{"study pool", StudyPool, false},
		{" Procedural_Blank ", ProceduralBlank, false},
		{"", SampleTypeUnknown, false},
		{"NaN", SampleTypeUnknown, false},
		{"Serum", SampleTypeUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSampleType(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSampleType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrBadEnumValue) {
				t.Errorf("ParseSampleType(%q) error = %v, want ErrBadEnumValue", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseSampleType(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	if q, err := ParseQuantificationType("IS"); err != nil || q != InternalStandard {
		t.Errorf("ParseQuantificationType(IS) = %v, %v", q, err)
	}
	if _, err := ParseVariableType(""); err == nil {
		t.Error("ParseVariableType(\"\") accepted an empty value")
	}
	if got := BackcalculatedIS.String(); got != "backcalculatedIS" {
		t.Errorf("BackcalculatedIS.String() = %q", got)
	}
}
