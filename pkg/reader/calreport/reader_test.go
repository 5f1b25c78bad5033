package calreport

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ChrisMcGann/QCKit/pkg/config"
	"github.com/ChrisMcGann/QCKit/pkg/core"
	"github.com/ChrisMcGann/QCKit/pkg/targeted"
)

const report = `Compound,TargetLynx ID,LLOQ,ULOQ,Noise (area),a,b,calibrationEquation
Alanine,1,2.5,250,40,0.5,0.1,((area * responseFactor)-b)/a
Glycine,2,5,500,,,,
`

func TestReader(t *testing.T) {
	r := NewReader(strings.NewReader(report))
	var got []Entry
	for r.Next() {
		got = append(got, *r.Entry())
	}
	if err := r.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}
	if !r.HasNoiseColumns() {
		t.Error("HasNoiseColumns() = false, want true")
	}

	nan := math.NaN()
	want := []Entry{
		{Compound: "Alanine", TargetLynxID: "1", LLOQ: 2.5, ULOQ: 250, NoiseArea: 40, A: 0.5, B: 0.1, C: nan,
			Equation: "((area * responseFactor)-b)/a"},
		{Compound: "Glycine", TargetLynxID: "2", LLOQ: 5, ULOQ: 500, NoiseArea: nan, A: nan, B: nan, C: nan},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestReaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
		line    string
	}{
		{
			name:    "missing required column",
			input:   "Compound,LLOQ,ULOQ\nAlanine,1,2\n",
			wantErr: core.ErrMissingColumn,
		},
		{
			name:  "bad number",
			input: "Compound,TargetLynx ID,LLOQ,ULOQ\nAlanine,1,2,3\nGlycine,2,low,3\n",
			line:  "line 3",
		},
		{
			name:  "empty compound",
			input: "Compound,TargetLynx ID,LLOQ,ULOQ\n,1,2,3\n",
			line:  "line 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadAll(strings.NewReader(tt.input))
			if err == nil {
				t.Fatal("ReadAll() error = nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ReadAll() error = %v, want %v", err, tt.wantErr)
			}
			if tt.line != "" && !strings.HasPrefix(err.Error(), tt.line) {
				t.Errorf("ReadAll() error = %v, want prefix %q", err, tt.line)
			}
		})
	}
}

func newTargeted(t *testing.T, names []string) *targeted.Dataset {
	t.Helper()
	samples := core.NewTable(1)
	features := core.NewTable(len(names))
	if err := samples.SetString(core.ColSampleFileName, []string{"run_01"}); err != nil {
		t.Fatal(err)
	}
	if err := features.SetString(core.ColFeatureName, names); err != nil {
		t.Fatal(err)
	}
	d, err := core.NewDataset("aa", core.NewMatrix(1, len(names), nil), samples, features, core.MS, core.Discrete, config.Default())
	if err != nil {
		t.Fatal(err)
	}
	td, err := targeted.New(d, nil)
	if err != nil {
		t.Fatal(err)
	}
	return td
}

func TestJoin(t *testing.T) {
	entries, err := ReadAll(strings.NewReader(report))
	if err != nil {
		t.Fatal(err)
	}
	d := newTargeted(t, []string{"Glycine", "Serine", "Alanine"})
	if err := Join(d, entries); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	lloq, err := d.FeatureMetadata.Float(core.ColLLOQ)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{5, math.NaN(), 2.5}, lloq, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("LLOQ mismatch (-want +got):\n%s", diff)
	}
	ids, err := d.FeatureMetadata.String(targeted.ColTargetLynxID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"2", "", "1"}, ids); diff != "" {
		t.Errorf("TargetLynx ID mismatch (-want +got):\n%s", diff)
	}
}

func TestJoinByTargetLynxID(t *testing.T) {
	d := newTargeted(t, []string{"Ala", "Gly"})
	if err := d.FeatureMetadata.SetString(targeted.ColTargetLynxID, []string{"1", "2"}); err != nil {
		t.Fatal(err)
	}
	entries := []Entry{
		{Compound: "Alanine", TargetLynxID: "1", LLOQ: 1, ULOQ: 10},
		{Compound: "Glycine", TargetLynxID: "2", LLOQ: 2, ULOQ: 20},
	}
	if err := Join(d, entries); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	uloq, err := d.FeatureMetadata.Float(core.ColULOQ)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{10, 20}, uloq); diff != "" {
		t.Errorf("ULOQ mismatch (-want +got):\n%s", diff)
	}

	dup := append(entries, Entry{Compound: "Other", TargetLynxID: "1"})
	if err := Join(d, dup); !errors.Is(err, core.ErrDuplicateValue) {
		t.Errorf("Join() error = %v, want ErrDuplicateValue", err)
	}
}
