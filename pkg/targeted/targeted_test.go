package targeted

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ChrisMcGann/QCKit/pkg/config"
	"github.com/ChrisMcGann/QCKit/pkg/core"
)

type feature struct {
	name       string
	qt         string
	lloq, uloq float64
}

var (
	inf  = math.Inf(1)
	ninf = math.Inf(-1)
	nan  = math.NaN()
)

var start = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// newTargeted builds a single-batch dataset acquired on the given day, one
// sample per hour, with a three-sample calibration whose values are
// calRows.
func newTargeted(t *testing.T, name string, day int, feats []feature, rows, calRows [][]float64) *Dataset {
	t.Helper()
	x, err := core.MatrixFromRows(rows)
	if err != nil {
		t.Fatal(err)
	}
	n, m := x.Dims()
	st := core.NewTable(n)
	files, types, roles := make([]string, n), make([]string, n), make([]string, n)
	times := make([]time.Time, n)
	ro, batch := make([]float64, n), make([]float64, n)
	for i := range files {
		files[i] = fmt.Sprintf("%s_s%d", name, i)
		types[i], roles[i] = "StudySample", "Assay"
		times[i] = start.Add(time.Duration(24*day+i) * time.Hour)
		ro[i], batch[i] = float64(i), 1
	}
	must(t, st.SetString(core.ColSampleFileName, files), st.SetString(core.ColSampleType, types),
		st.SetString(core.ColAssayRole, roles), st.SetTime(core.ColAcquiredTime, times),
		st.SetFloat(core.ColRunOrder, ro), st.SetFloat(core.ColBatch, batch))

	ft := featureTable(t, feats)
	d, err := core.NewDataset(name, x, st, ft, core.MS, core.Discrete, config.Default())
	if err != nil {
		t.Fatal(err)
	}
	d.Attributes.MethodName = "TestMethod"

	calX, err := core.MatrixFromRows(calRows)
	if err != nil {
		t.Fatal(err)
	}
	cn, _ := calX.Dims()
	cs := core.NewTable(cn)
	calFiles := make([]string, cn)
	for i := range calFiles {
		calFiles[i] = fmt.Sprintf("%s_cal%d", name, i)
	}
	must(t, cs.SetString(core.ColSampleFileName, calFiles))
	cal := Calibration{
		Batch:                 1,
		Intensity:             calX,
		SampleMetadata:        cs,
		FeatureMetadata:       ft.Copy(),
		ExpectedConcentration: core.NewMatrixFilled(cn, m, nan),
	}
	td, err := New(d, nil, cal)
	if err != nil {
		t.Fatal(err)
	}
	return td
}

func featureTable(t *testing.T, feats []feature) *core.Table {
	t.Helper()
	m := len(feats)
	ft := core.NewTable(m)
	names, qt, cm, unit := make([]string, m), make([]string, m), make([]string, m), make([]string, m)
	lloq, uloq := make([]float64, m), make([]float64, m)
	for j, f := range feats {
		names[j], qt[j], unit[j] = f.name, f.qt, "mg/L"
		cm[j] = "backcalculatedIS"
		if f.qt == "Monitored" {
			cm[j] = "noCalibration"
		}
		lloq[j], uloq[j] = f.lloq, f.uloq
	}
	must(t, ft.SetString(core.ColFeatureName, names), ft.SetString(core.ColQuantificationType, qt),
		ft.SetString(core.ColCalibrationMethod, cm), ft.SetString(core.ColUnit, unit),
		ft.SetFloat(core.ColLLOQ, lloq), ft.SetFloat(core.ColULOQ, uloq))
	return ft
}

func must(t *testing.T, errs ...error) {
	t.Helper()
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
}

func rows(x *core.Matrix) [][]float64 {
	n, _ := x.Dims()
	out := make([][]float64, n)
	for i := range out {
		out[i] = x.Row(i)
	}
	return out
}

func column(t *testing.T, tab *core.Table, name string) []float64 {
	t.Helper()
	v, err := tab.Float(name)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

var loqFeatures = []feature{
	{"A", "IS", 10, 100},
	{"M", "Monitored", nan, nan},
	{"Q", "QuantOther", nan, nan},
	{"X", "QuantOwnLabeledAnalogue", nan, 50},
}

func loqDataset(t *testing.T) *Dataset {
	return newTargeted(t, "loq", 0, loqFeatures,
		[][]float64{
			{5, -3, 1, 1},
			{50, 1e9, 2, 2},
			{150, nan, 3, 3},
			{nan, 0.5, 4, 4},
			{ninf, 7, 5, 5},
		},
		[][]float64{
			{5, 1, 1, 1},
			{50, 1, 1, 1},
			{500, 1, 1, 1},
		})
}

func TestApplyLimitsOfQuantification(t *testing.T) {
	tests := []struct {
		name     string
		onlyLLOQ bool
		wantA    []float64
	}{
		{"both limits", false, []float64{ninf, 50, inf, nan, ninf}},
		{"only LLOQ", true, []float64{ninf, 50, 150, nan, ninf}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := loqDataset(t)
			monitored := d.Intensity.Col(1)
			if err := d.ApplyLimitsOfQuantification(tt.onlyLLOQ); err != nil {
				t.Fatal(err)
			}

			names, _ := d.FeatureNames()
			if diff := cmp.Diff([]string{"A", "M", "Q"}, names); diff != "" {
				t.Fatalf("features mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantA, d.Intensity.Col(0), cmpopts.EquateNaNs()); diff != "" {
				t.Errorf("feature A mismatch (-want +got):\n%s", diff)
			}
			for i, v := range d.Intensity.Col(1) {
				if math.Float64bits(v) != math.Float64bits(monitored[i]) {
					t.Errorf("Monitored sample %d = %v, want %v unchanged", i, v, monitored[i])
				}
			}
			if r, c := d.ExpectedConcentration.Dims(); r != 5 || c != 3 {
				t.Errorf("expected concentrations are %d×%d, want 5×3", r, c)
			}
			if len(d.Excluded) != 1 || d.Excluded[0].Flag != core.ExcludedFeatures {
				t.Fatalf("Excluded = %+v, want one feature exclusion", d.Excluded)
			}
			if _, ok := d.Excluded[0].Extra[ExpectedConcentration]; !ok {
				t.Error("excluded expected concentrations not recorded")
			}
			if v := Check(d); !v.Basic {
				t.Errorf("Check() after LOQ = %+v", v.Failures)
			}
		})
	}
}

func TestLimitsOfQuantificationRejectDuplicateRunOrder(t *testing.T) {
	for _, noise := range []bool{false, true} {
		d := loqDataset(t)
		must(t, d.SampleMetadata.SetFloat(core.ColRunOrder, []float64{0, 1, 1, 3, 4}))
		before := rows(d.Intensity)

		var err error
		if noise {
			err = d.ApplyNoiseFilledLimitsOfQuantification(false, ResponseReference{})
		} else {
			err = d.ApplyLimitsOfQuantification(false)
		}
		if !errors.Is(err, core.ErrDuplicateValue) {
			t.Errorf("noise=%v: error = %v, want ErrDuplicateValue", noise, err)
		}
		if diff := cmp.Diff(before, rows(d.Intensity), cmpopts.EquateNaNs()); diff != "" {
			t.Errorf("noise=%v: intensities changed on error (-want +got):\n%s", noise, diff)
		}
	}
}

func TestLimitsOfQuantificationInvariant(t *testing.T) {
	d := loqDataset(t)
	if err := d.ApplyLimitsOfQuantification(false); err != nil {
		t.Fatal(err)
	}
	qt, _ := d.QuantificationTypes()
	lloq := column(t, d.FeatureMetadata, core.ColLLOQ)
	uloq := column(t, d.FeatureMetadata, core.ColULOQ)
	n, m := d.Intensity.Dims()
	for j := 0; j < m; j++ {
		if qt[j] == core.Monitored || math.IsNaN(lloq[j]) {
			continue
		}
		for i := 0; i < n; i++ {
			v := d.Intensity.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			if v < lloq[j] || v > uloq[j] {
				t.Errorf("intensity (%d, %d) = %v outside [%v, %v]", i, j, v, lloq[j], uloq[j])
			}
		}
	}
	if diff := cmp.Diff([]float64{ninf, 50, inf}, d.Calibration[0].Intensity.Col(0)); diff != "" {
		t.Errorf("calibration feature A mismatch (-want +got):\n%s", diff)
	}
	if _, c := d.Calibration[0].Intensity.Dims(); c != 3 {
		t.Errorf("calibration has %d features, want 3", c)
	}
}

func TestCalibrationEquation(t *testing.T) {
	tests := []struct {
		expr          string
		area, rf      float64
		a, b, c, want float64
	}{
		{"((area*responseFactor)-b)/a", 4, 2, 2, 1, 0, 3.5},
		{"10**((log10(area*responseFactor)-b)/a)", 100, 1, 1, 0, 0, 100},
		{"area/a", 10, 3, 2, 0, 0, 5},
		{"(-b+sqrt(b**2-4*a*(c-area*responseFactor)))/(2*a)", 4, 1, 1, 0, 0, 2},
		{" area / a ", 10, 3, 2, 0, 0, 5},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, err := CalibrationEquation(tt.expr)
			if err != nil {
				t.Fatal(err)
			}
			if got := f(tt.area, tt.rf, tt.a, tt.b, tt.c); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("CalibrationEquation(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
	if _, err := CalibrationEquation("area*a"); !errors.Is(err, core.ErrBadEnumValue) {
		t.Errorf("CalibrationEquation() unknown error = %v, want ErrBadEnumValue", err)
	}
}

func TestApplyNoiseFilledLimitsOfQuantification(t *testing.T) {
	feats := []feature{{"A", "IS", 10, 100}, {"M", "Monitored", nan, nan}}
	newNoisy := func(t *testing.T) *Dataset {
		d := newTargeted(t, "noise", 0, feats,
			[][]float64{{5, 5}, {50, 50}, {500, 500}},
			[][]float64{{1, 1}, {2, 2}, {3, 3}})
		must(t,
			d.FeatureMetadata.SetFloat(ColNoiseArea, []float64{3, nan}),
			d.FeatureMetadata.SetFloat(ColA, []float64{2, nan}),
			d.FeatureMetadata.SetFloat(ColB, []float64{0, nan}),
			d.FeatureMetadata.SetString(ColCalibrationEquation, []string{"((area*responseFactor)-b)/a", ""}),
		)
		response, _ := core.MatrixFromRows([][]float64{{4, 1}, {6, 1}, {12, 1}})
		area, _ := core.MatrixFromRows([][]float64{{2, 1}, {2, 1}, {3, 1}})
		d.Calibration[0].PeakInfo = map[string]*core.Matrix{PeakResponse: response, PeakArea: area}
		return d
	}

	tests := []struct {
		name string
		ref  ResponseReference
		want float64
	}{
		{"middle sample", ResponseReference{}, 4.5},
		{"uniform", ResponseReference{Sample: "noise_cal0"}, 3},
		{"per feature", ResponseReference{Sample: "noise_cal0", PerFeature: map[string]string{"A": "noise_cal2"}}, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newNoisy(t)
			if err := d.ApplyNoiseFilledLimitsOfQuantification(false, tt.ref); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff([]float64{tt.want, 50, inf}, d.Intensity.Col(0)); diff != "" {
				t.Errorf("feature A mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]float64{5, 50, 500}, d.Intensity.Col(1)); diff != "" {
				t.Errorf("Monitored feature changed (-want +got):\n%s", diff)
			}
		})
	}

	d := newNoisy(t)
	if err := d.ApplyNoiseFilledLimitsOfQuantification(false, ResponseReference{Sample: "nope"}); !errors.Is(err, core.ErrMissingColumn) {
		t.Errorf("unknown reference error = %v, want ErrMissingColumn", err)
	}
	d.Calibration[0].PeakInfo = nil
	if err := d.ApplyNoiseFilledLimitsOfQuantification(false, ResponseReference{}); !errors.Is(err, core.ErrMissingColumn) {
		t.Errorf("missing peak info error = %v, want ErrMissingColumn", err)
	}
}

func mergePair(t *testing.T) (*Dataset, *Dataset) {
	left := newTargeted(t, "b1", 0,
		[]feature{{"F", "QuantOther", 5, 80}},
		[][]float64{{10}, {90}},
		[][]float64{{1}, {2}, {3}})
	right := newTargeted(t, "b2", 2,
		[]feature{{"F", "QuantOther", 20, 100}, {"G", "IS", 1, 1000}},
		[][]float64{{25, 3}, {70, 4}},
		[][]float64{{1, 1}, {2, 2}, {3, 3}})
	return left, right
}

func TestAddAndMergeLimits(t *testing.T) {
	left, right := mergePair(t)
	right.FeatureMask[1] = false
	merged, err := Add(left, right)
	if err != nil {
		t.Fatal(err)
	}

	names, _ := merged.FeatureNames()
	if diff := cmp.Diff([]string{"F", "G"}, names); diff != "" {
		t.Errorf("features mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{1, 1, 2, 2}, column(t, merged.SampleMetadata, core.ColBatch)); diff != "" {
		t.Errorf("Batch mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0, 1, 2, 3}, column(t, merged.SampleMetadata, core.ColRunOrder)); diff != "" {
		t.Errorf("Run Order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{5, nan}, column(t, merged.FeatureMetadata, "LLOQ_batch1"), cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("LLOQ_batch1 mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{20, 1}, column(t, merged.FeatureMetadata, "LLOQ_batch2")); diff != "" {
		t.Errorf("LLOQ_batch2 mismatch (-want +got):\n%s", diff)
	}
	want := [][]float64{{10, nan}, {90, nan}, {25, 3}, {70, 4}}
	if diff := cmp.Diff(want, rows(merged.Intensity), cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("intensity mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]bool{true, false}, merged.FeatureMask); diff != "" {
		t.Errorf("FeatureMask mismatch (-want +got):\n%s", diff)
	}
	if len(merged.Calibration) != 2 || merged.Calibration[0].Batch != 1 || merged.Calibration[1].Batch != 2 {
		t.Errorf("calibration batches = %d entries, want batches 1 and 2", len(merged.Calibration))
	}
	if _, c := merged.Calibration[1].Intensity.Dims(); c != 2 {
		t.Errorf("right calibration has %d features, want 2", c)
	}

	if err := merged.MergeLimitsOfQuantification(false); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{20, 1}, column(t, merged.FeatureMetadata, core.ColLLOQ)); diff != "" {
		t.Errorf("LLOQ mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{80, 1000}, column(t, merged.FeatureMetadata, core.ColULOQ)); diff != "" {
		t.Errorf("ULOQ mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{ninf, inf, 25, 70}, merged.Intensity.Col(0)); diff != "" {
		t.Errorf("F after merged limits mismatch (-want +got):\n%s", diff)
	}
	if merged.FeatureMetadata.Has("LLOQ_batch1") {
		t.Error("per-batch LLOQ column kept")
	}
	if err := merged.MergeLimitsOfQuantification(false); !errors.Is(err, core.ErrMissingColumn) {
		t.Errorf("second MergeLimitsOfQuantification() error = %v, want ErrMissingColumn", err)
	}
}

func TestAddRenumbersCalibrationBatches(t *testing.T) {
	left, right := mergePair(t)
	must(t, left.Calibration[0].SampleMetadata.SetFloat(core.ColBatch, []float64{1, nan, 1}),
		right.Calibration[0].SampleMetadata.SetFloat(core.ColBatch, []float64{1, 1, 1}))

	merged, err := Add(left, right)
	if err != nil {
		t.Fatal(err)
	}
	if len(merged.Calibration) != 2 {
		t.Fatalf("len(Calibration) = %d, want 2", len(merged.Calibration))
	}
	tests := []struct {
		batch  float64
		column []float64
	}{
		{1, []float64{1, nan, 1}},
		{2, []float64{2, 2, 2}},
	}
	for k, tt := range tests {
		cal := merged.Calibration[k]
		if cal.Batch != tt.batch {
			t.Errorf("Calibration[%d].Batch = %v, want %v", k, cal.Batch, tt.batch)
		}
		if diff := cmp.Diff(tt.column, column(t, cal.SampleMetadata, core.ColBatch), cmpopts.EquateNaNs()); diff != "" {
			t.Errorf("Calibration[%d] Batch column mismatch (-want +got):\n%s", k, diff)
		}
	}
	if diff := cmp.Diff([]float64{1, 1, 1}, column(t, right.Calibration[0].SampleMetadata, core.ColBatch)); diff != "" {
		t.Errorf("input calibration modified (-want +got):\n%s", diff)
	}
}

func TestAddErrors(t *testing.T) {
	left, right := mergePair(t)
	right.Attributes.MethodName = "Other"
	if _, err := Add(left, right); !errors.Is(err, core.ErrMergeIncompatibility) {
		t.Errorf("Add() with different methods error = %v, want ErrMergeIncompatibility", err)
	}

	left, right = mergePair(t)
	must(t, right.FeatureMetadata.SetString(core.ColUnit, []string{"µM", "mg/L"}))
	if _, err := Add(left, right); !errors.Is(err, core.ErrMergeIncompatibility) {
		t.Errorf("Add() with a unit clash error = %v, want ErrMergeIncompatibility", err)
	}
}

func TestSum(t *testing.T) {
	mk := func(name string, day int, lloq float64) *Dataset {
		return newTargeted(t, name, day,
			[]feature{{"F", "IS", lloq, 100}, {name, "IS", 1, 10}},
			[][]float64{{float64(day), 1}, {float64(day) + 1, 2}},
			[][]float64{{1, 1}, {2, 2}, {3, 3}})
	}
	a, b, c := mk("a", 0, 1), mk("b", 1, 2), mk("c", 2, 3)

	summed, err := Sum(a, b, c)
	if err != nil {
		t.Fatal(err)
	}
	ab, err := Add(a, b)
	if err != nil {
		t.Fatal(err)
	}
	folded, err := Add(ab, c)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(rows(folded.Intensity), rows(summed.Intensity), cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("intensity mismatch (-fold +sum):\n%s", diff)
	}
	if diff := cmp.Diff(folded.FeatureMetadata.Columns(), summed.FeatureMetadata.Columns()); diff != "" {
		t.Errorf("feature columns mismatch (-fold +sum):\n%s", diff)
	}
	for _, col := range summed.FeatureMetadata.Columns() {
		want, _ := folded.FeatureMetadata.String(col)
		got, _ := summed.FeatureMetadata.String(col)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("column %q mismatch (-fold +sum):\n%s", col, diff)
		}
	}
	names, _ := summed.FeatureNames()
	if diff := cmp.Diff([]string{"F", "a", "b", "c"}, names); diff != "" {
		t.Errorf("features mismatch (-want +got):\n%s", diff)
	}
	var batches []float64
	for _, cal := range summed.Calibration {
		batches = append(batches, cal.Batch)
	}
	if diff := cmp.Diff([]float64{1, 2, 3}, batches); diff != "" {
		t.Errorf("calibration batches mismatch (-want +got):\n%s", diff)
	}
	if !summed.FeatureMetadata.Has("LLOQ_batch3") {
		t.Errorf("feature columns %v lack LLOQ_batch3", summed.FeatureMetadata.Columns())
	}

	if _, err := Sum(); err == nil {
		t.Error("Sum() of nothing succeeded")
	}
}

func TestApplyMasks(t *testing.T) {
	d := loqDataset(t)
	d.SampleMask[0] = false
	d.FeatureMask[2] = false
	if err := d.ApplyMasks(); err != nil {
		t.Fatal(err)
	}
	if r, c := d.ExpectedConcentration.Dims(); r != 4 || c != 3 {
		t.Errorf("expected concentrations are %d×%d, want 4×3", r, c)
	}
	calNames, _ := d.Calibration[0].FeatureMetadata.String(core.ColFeatureName)
	if diff := cmp.Diff([]string{"A", "M", "X"}, calNames); diff != "" {
		t.Errorf("calibration features mismatch (-want +got):\n%s", diff)
	}
	if len(d.Excluded) != 2 {
		t.Errorf("len(Excluded) = %d, want 2", len(d.Excluded))
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name               string
		modify             func(*Dataset)
		wantDataset, basic bool
	}{
		{"valid", func(*Dataset) {}, true, true},
		{"no unit", func(d *Dataset) { d.FeatureMetadata.Drop(core.ColUnit) }, true, false},
		{"no method", func(d *Dataset) { d.Attributes.MethodName = "" }, true, false},
		{"bad quantification type", func(d *Dataset) {
			must(t, d.FeatureMetadata.SetString(core.ColQuantificationType, []string{"IS", "Monitored", "QuantOther", "Guess"}))
		}, true, false},
		{"calibration features differ", func(d *Dataset) { d.Calibration[0].selectFeatures([]int{0, 1}) }, true, false},
		{"no calibration", func(d *Dataset) { d.Calibration = nil }, true, false},
		{"expected concentration shape", func(d *Dataset) { d.ExpectedConcentration = core.NewMatrix(1, 1, nil) }, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := loqDataset(t)
			tt.modify(d)
			v := Check(d)
			if v.Dataset != tt.wantDataset || v.Basic != tt.basic {
				t.Errorf("Check() = Dataset %v Basic %v, want %v %v; failures %+v", v.Dataset, v.Basic, tt.wantDataset, tt.basic, v.Failures)
			}
		})
	}
}
