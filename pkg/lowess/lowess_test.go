package lowess

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ChrisMcGann/QCKit/pkg/core"
)

func TestNearest(t *testing.T) {
	xs := []float64{1, 2, 4, 8, 16}
	tests := []struct {
		name   string
		x0     float64
		w      int
		lo, hi int
	}{
		{"left edge", 0, 3, 0, 3},
		{"right edge", 20, 2, 3, 5},
		{"middle", 5, 3, 1, 4},
		{"tie prefers lower", 3, 2, 1, 3},
		{"window wider than data", 3, 9, 0, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi := nearest(xs, tt.x0, tt.w)
			if lo != tt.lo || hi != tt.hi {
				t.Errorf("nearest(%v, %d) = [%d, %d), want [%d, %d)", tt.x0, tt.w, lo, hi, tt.lo, tt.hi)
			}
		})
	}
}

func TestSmoothReproducesLine(t *testing.T) {
	xq := []float64{9, 1, 3, 5, 7}
	yq := make([]float64, len(xq))
	for i, x := range xq {
		yq[i] = 2 + 0.5*x
	}
	x := []float64{0, 1, 2.5, 6, 12, math.NaN()}
	got, err := Smooth(xq, yq, x, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i, x0 := range x[:5] {
		if want := 2 + 0.5*x0; math.Abs(got[i]-want) > 1e-10 {
			t.Errorf("Smooth at %v = %v, want %v", x0, got[i], want)
		}
	}
	if !math.IsNaN(got[5]) {
		t.Errorf("Smooth at NaN = %v, want NaN", got[5])
	}
}

func TestSmoothErrors(t *testing.T) {
	if _, err := Smooth([]float64{1}, []float64{1, 2}, nil, 3); err == nil {
		t.Error("Smooth() with mismatched lengths succeeded")
	}
	if _, err := Smooth([]float64{1}, []float64{math.NaN()}, []float64{1}, 3); err == nil {
		t.Error("Smooth() with no finite points succeeded")
	}
	if _, err := Smooth([]float64{1}, []float64{1}, []float64{1}, 0); err == nil {
		t.Error("Smooth() with zero window succeeded")
	}
}

// linspace series with every 7th sample as QC: the fit is the series itself
// and the corrected series is flat.
func TestCorrectFeatureLinspace(t *testing.T) {
	const n = 100
	y := make([]float64, n)
	floats.Span(y, 1, 10)
	x := make([]float64, n)
	qc := make([]bool, n)
	all := make([]int, n)
	for i := range x {
		x[i] = float64(i + 1)
		qc[i] = (i+1)%7 == 0
		all[i] = i
	}

	for _, align := range []Align{AlignMedian, AlignMean} {
		t.Run(align.String(), func(t *testing.T) {
			res := CorrectFeature(x, y, [][]int{all}, qc, Params{Window: DefaultWindow, Method: MethodLOWESS, Align: align})
			if res.Err != nil {
				t.Fatal(res.Err)
			}
			maxErr := 0.0
			for i := range y {
				maxErr = math.Max(maxErr, math.Abs(res.Fit[i]-y[i]))
			}
			if maxErr >= 1e-8 {
				t.Errorf("max |fit - y| = %g, want < 1e-8", maxErr)
			}
			if sd := stat.StdDev(res.Corrected, nil); sd >= 1e-8 {
				t.Errorf("std(corrected) = %g, want < 1e-8", sd)
			}
		})
	}
}

// twoBatches draws each batch from its own normal distribution.
func twoBatches(t *testing.T) (x, y []float64, batches [][]int, qc []bool) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	const per = 40
	x = make([]float64, 2*per)
	y = make([]float64, 2*per)
	qc = make([]bool, 2*per)
	batches = [][]int{nil, nil}
	for i := range x {
		b := i / per
		x[i] = float64(i)
		mu, sd := 100.0, 10.0
		if b == 1 {
			mu, sd = 250, 20
		}
		y[i] = mu + sd*rng.NormFloat64()
		qc[i] = i%4 == 0
		batches[b] = append(batches[b], i)
	}
	return x, y, batches, qc
}

func qcValues(v []float64, idx []int, qc []bool) []float64 {
	var out []float64
	for _, i := range idx {
		if qc[i] {
			out = append(out, v[i])
		}
	}
	return out
}

func TestCorrectFeatureAlignment(t *testing.T) {
	x, y, batches, qc := twoBatches(t)

	tests := []struct {
		name   string
		params Params
		stat   func([]float64) float64
	}{
		{"mean", Params{Window: 5, Method: MethodLOWESS, Align: AlignMean}, func(v []float64) float64 { return central(v, AlignMean) }},
		{"median", Params{Window: 5, Method: MethodLOWESS, Align: AlignMedian}, func(v []float64) float64 { return central(v, AlignMedian) }},
		{"none method mean", Params{Window: 5, Method: MethodNone, Align: AlignMean}, func(v []float64) float64 { return central(v, AlignMean) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := CorrectFeature(x, y, batches, qc, tt.params)
			if res.Err != nil {
				t.Fatal(res.Err)
			}
			want := tt.stat(append(qcValues(y, batches[0], qc), qcValues(y, batches[1], qc)...))
			for b, idx := range batches {
				got := tt.stat(qcValues(res.Corrected, idx, qc))
				if math.Abs(got-want) > 1e-6 {
					t.Errorf("batch %d QC %s = %v, want %v", b, tt.name, got, want)
				}
			}
		})
	}
}

func TestCorrectFeatureNoAlignNoMethod(t *testing.T) {
	x, y, batches, qc := twoBatches(t)
	res := CorrectFeature(x, y, batches, qc, Params{Window: 5, Method: MethodNone, Align: AlignNone})
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	for b, idx := range batches {
		before := stat.Mean(qcValues(y, idx, qc), nil)
		after := stat.Mean(qcValues(res.Corrected, idx, qc), nil)
		if math.Abs(before-after) > 1e-9 {
			t.Errorf("batch %d QC mean changed from %v to %v", b, before, after)
		}
	}
}

func TestCorrectFeatureEdgeCases(t *testing.T) {
	t.Run("single QC point", func(t *testing.T) {
		x := []float64{0, 1, 2, 3}
		y := []float64{5, 6, 7, 8}
		qc := []bool{true, false, false, false}
		res := CorrectFeature(x, y, [][]int{{0, 1, 2, 3}}, qc, DefaultParams())
		if res.Err != nil {
			t.Fatal(res.Err)
		}
		if diff := cmp.Diff(y, res.Corrected); diff != "" {
			t.Errorf("corrected mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(y, res.Fit); diff != "" {
			t.Errorf("fit mismatch (-want +got):\n%s", diff)
		}
		if !res.Batches[0].Skipped {
			t.Error("batch not marked skipped")
		}
	})

	t.Run("non-positive baseline", func(t *testing.T) {
		// Steep decline extrapolates below zero at the last sample.
		x := []float64{0, 1, 2, 3, 10}
		y := []float64{10, 5, 1, 1, 1}
		qc := []bool{true, true, true, false, false}
		res := CorrectFeature(x, y, [][]int{{0, 1, 2, 3, 4}}, qc, Params{Window: 3, Method: MethodLOWESS, Align: AlignNone})
		if res.Err != nil {
			t.Fatal(res.Err)
		}
		for i, f := range res.Fit {
			if f <= 0 {
				t.Errorf("fit[%d] = %v, want positive", i, f)
			}
		}
		if len(res.Messages) == 0 {
			t.Error("replacement not reported")
		}
	})

	t.Run("all baselines non-positive", func(t *testing.T) {
		x := []float64{0, 1, 2}
		y := []float64{-1, -2, -3}
		qc := []bool{true, true, true}
		res := CorrectFeature(x, y, [][]int{{0, 1, 2}}, qc, DefaultParams())
		if !errors.Is(res.Err, core.ErrNumericalFailure) {
			t.Fatalf("Err = %v, want ErrNumericalFailure", res.Err)
		}
		if diff := cmp.Diff(y, res.Corrected); diff != "" {
			t.Errorf("failed feature not passed through (-want +got):\n%s", diff)
		}
	})

	t.Run("sample outside batches", func(t *testing.T) {
		x := []float64{0, 1, 2, 3}
		y := []float64{2, 2, 2, 9}
		qc := []bool{true, true, true, false}
		res := CorrectFeature(x, y, [][]int{{0, 1, 2}}, qc, DefaultParams())
		if res.Corrected[3] != 9 || !math.IsNaN(res.Fit[3]) {
			t.Errorf("unbatched sample got corrected %v, fit %v", res.Corrected[3], res.Fit[3])
		}
	})
}

func TestParams(t *testing.T) {
	if err := (Params{Window: 4}).Check(); !errors.Is(err, core.ErrThresholdOutOfRange) {
		t.Errorf("Check() even window error = %v", err)
	}
	if err := DefaultParams().Check(); err != nil {
		t.Errorf("DefaultParams().Check() = %v", err)
	}
	m, err := ParseMethod("none")
	if err != nil || m != MethodNone {
		t.Errorf("ParseMethod(none) = %v, %v", m, err)
	}
	if _, err := ParseAlign("mode"); err == nil {
		t.Error("ParseAlign(mode) succeeded")
	}
}
