package csvdataset

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ChrisMcGann/QCKit/pkg/config"
	"github.com/ChrisMcGann/QCKit/pkg/core"
	"github.com/ChrisMcGann/QCKit/pkg/targeted"
	"github.com/ChrisMcGann/QCKit/pkg/writer/csvexport"
)

func rows(x *core.Matrix) [][]float64 {
	n, _ := x.Dims()
	out := make([][]float64, n)
	for i := range out {
		out[i] = x.Row(i)
	}
	return out
}

func TestReader(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		cols    int
		want    [][]float64
		wantErr bool
	}{
		{
			name:  "tokens and blanks",
			input: "1,<LLOQ\n,>ULOQ\n",
			cols:  2,
			want:  [][]float64{{1, math.Inf(-1)}, {math.NaN(), math.Inf(1)}},
		},
		{
			name:  "width from first line",
			input: "1,2,3\n4,5,6\n",
			cols:  -1,
			want:  [][]float64{{1, 2, 3}, {4, 5, 6}},
		},
		{
			name:    "ragged",
			input:   "1,2\n3\n",
			cols:    2,
			wantErr: true,
		},
		{
			name:    "bad number",
			input:   "1,abc\n",
			cols:    2,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(strings.NewReader(tt.input), tt.cols)
			var got [][]float64
			for r.Next() {
				got = append(got, r.Row())
			}
			if (r.Err() != nil) != tt.wantErr {
				t.Fatalf("Err() = %v, wantErr %v", r.Err(), tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateNaNs()); diff != "" {
				t.Errorf("rows mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReaderLineNumbers(t *testing.T) {
	r := NewReader(strings.NewReader("1,2\n3,4\n5,x\n"), 2)
	for r.Next() {
	}
	if r.Err() == nil || !strings.HasPrefix(r.Err().Error(), "line 3") {
		t.Errorf("Err() = %v, want an error on line 3", r.Err())
	}

	r = NewReader(strings.NewReader("1,2\n3\n"), 2)
	for r.Next() {
	}
	if !errors.Is(r.Err(), core.ErrShapeMismatch) {
		t.Errorf("Err() = %v, want ErrShapeMismatch", r.Err())
	}
}

func newTargeted(t *testing.T) *targeted.Dataset {
	t.Helper()
	samples := core.NewTable(2)
	features := core.NewTable(2)
	start := time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC)
	for _, err := range []error{
		samples.SetString(core.ColSampleFileName, []string{"run_01", "run_02"}),
		samples.SetString(core.ColSampleType, []string{"StudySample", "StudySample"}),
		samples.SetString(core.ColAssayRole, []string{"Assay", "Assay"}),
		samples.SetTime(core.ColAcquiredTime, []time.Time{start, start.Add(time.Hour)}),
		samples.SetFloat(core.ColBatch, []float64{1, 1}),
		features.SetString(core.ColFeatureName, []string{"Ala", "Gly"}),
		features.SetFloat(core.ColLLOQ, []float64{1, 2}),
		features.SetFloat(core.ColULOQ, []float64{10, 20}),
	} {
		if err != nil {
			t.Fatal(err)
		}
	}
	x := core.NewMatrix(2, 2, []float64{5, math.Inf(-1), math.NaN(), 15})
	d, err := core.NewDataset("study", x, samples, features, core.MS, core.Discrete, config.Default())
	if err != nil {
		t.Fatal(err)
	}

	calSamples := core.NewTable(1)
	if err := calSamples.SetString(core.ColSampleFileName, []string{"cal_01"}); err != nil {
		t.Fatal(err)
	}
	cal := targeted.Calibration{
		Batch:                 1,
		Intensity:             core.NewMatrix(1, 2, []float64{3, 4}),
		SampleMetadata:        calSamples,
		FeatureMetadata:       features.Copy(),
		ExpectedConcentration: core.NewMatrix(1, 2, []float64{2.5, 5}),
		PeakInfo: map[string]*core.Matrix{
			targeted.PeakArea:     core.NewMatrix(1, 2, []float64{100, 200}),
			targeted.PeakResponse: core.NewMatrix(1, 2, []float64{1, 2}),
		},
	}
	td, err := targeted.New(d, core.NewMatrix(2, 2, []float64{4, 8, 12, 16}), cal)
	if err != nil {
		t.Fatal(err)
	}
	return td
}

func TestReadTargetedRoundTrip(t *testing.T) {
	want := newTargeted(t)
	dir := t.TempDir()
	if err := csvexport.ExportTargeted(want, dir, "study", csvexport.CSV); err != nil {
		t.Fatalf("ExportTargeted() error = %v", err)
	}

	got, err := ReadTargeted(dir, "study", Options{SOP: config.Default(), MethodName: "AminoAcids"})
	if err != nil {
		t.Fatalf("ReadTargeted() error = %v", err)
	}
	if got.Attributes.MethodName != "AminoAcids" {
		t.Errorf("MethodName = %q, want AminoAcids", got.Attributes.MethodName)
	}
	if diff := cmp.Diff(rows(want.Intensity), rows(got.Intensity), cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("intensity mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(rows(want.ExpectedConcentration), rows(got.ExpectedConcentration)); diff != "" {
		t.Errorf("expected concentration mismatch (-want +got):\n%s", diff)
	}

	times, err := got.SampleMetadata.Time(core.ColAcquiredTime)
	if err != nil {
		t.Fatalf("Acquired Time not read as time: %v", err)
	}
	if !times[1].Equal(time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("Acquired Time[1] = %v", times[1])
	}

	if len(got.Calibration) != 1 {
		t.Fatalf("len(Calibration) = %d, want 1", len(got.Calibration))
	}
	cal := got.Calibration[0]
	if cal.Batch != 1 {
		t.Errorf("Calibration.Batch = %v, want 1", cal.Batch)
	}
	if diff := cmp.Diff([][]float64{{100, 200}}, rows(cal.PeakInfo[targeted.PeakArea])); diff != "" {
		t.Errorf("peak area mismatch (-want +got):\n%s", diff)
	}
	if v := targeted.Check(got); !v.Dataset {
		t.Errorf("Check() Dataset = false: %v", v.Failures)
	}
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(t.TempDir(), "absent", Options{SOP: config.Default()})
	if err == nil {
		t.Error("Read() error = nil for a missing dataset")
	}
}

func TestReadRejectsDuplicateRunOrder(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		csvexport.SampleMetadataFile:  "Sample File Name,Run Order\nrun_01,1\nrun_02,2\nrun_03,2\n",
		csvexport.FeatureMetadataFile: "Feature Name\nAla\n",
		csvexport.IntensityDataFile:   "1\n2\n3\n",
	}
	for suffix, content := range files {
		if err := os.WriteFile(filepath.Join(dir, "study"+suffix), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := Read(dir, "study", Options{SOP: config.Default()}); !errors.Is(err, core.ErrDuplicateValue) {
		t.Errorf("Read() error = %v, want ErrDuplicateValue", err)
	}
}
