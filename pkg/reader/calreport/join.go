package calreport

import (
	"fmt"
	"math"

	"github.com/ChrisMcGann/QCKit/pkg/core"
	"github.com/ChrisMcGann/QCKit/pkg/targeted"
)

// Join writes the report's limits, noise areas and calibration equations
// into the feature metadata of d. Features are matched on TargetLynx ID when
// d carries that column, on Feature Name against Compound otherwise.
// Features without an entry keep NaN limits and are warned about.
func Join(d *targeted.Dataset, entries []Entry) error {
	fm := d.FeatureMetadata
	byID := fm.Has(targeted.ColTargetLynxID)
	keyCol := core.ColFeatureName
	if byID {
		keyCol = targeted.ColTargetLynxID
	}
	keys, err := fm.String(keyCol)
	if err != nil {
		return err
	}

	lookup := make(map[string]int, len(entries))
	for k, e := range entries {
		key := e.Compound
		if byID {
			key = e.TargetLynxID
		}
		if _, dup := lookup[key]; dup {
			return fmt.Errorf("%w: calibration report lists %q twice", core.ErrDuplicateValue, key)
		}
		lookup[key] = k
	}

	m := len(keys)
	compound, id, equation := make([]string, m), make([]string, m), make([]string, m)
	lloq, uloq, noise := nanSlice(m), nanSlice(m), nanSlice(m)
	a, b, c := nanSlice(m), nanSlice(m), nanSlice(m)
	var warn core.Warnings
	used := 0
	for j, key := range keys {
		k, ok := lookup[key]
		if !ok {
			warn.Add("Feature %s has no calibration report entry", key)
			continue
		}
		used++
		e := entries[k]
		compound[j], id[j], equation[j] = e.Compound, e.TargetLynxID, e.Equation
		lloq[j], uloq[j], noise[j] = e.LLOQ, e.ULOQ, e.NoiseArea
		a[j], b[j], c[j] = e.A, e.B, e.C
	}
	if extra := len(entries) - used; extra > 0 {
		warn.Add("%d calibration report entries match no feature", extra)
	}

	for _, err := range []error{
		fm.SetString(targeted.ColCompound, compound),
		fm.SetString(targeted.ColTargetLynxID, id),
		fm.SetFloat(core.ColLLOQ, lloq),
		fm.SetFloat(core.ColULOQ, uloq),
		fm.SetFloat(targeted.ColNoiseArea, noise),
		fm.SetFloat(targeted.ColA, a),
		fm.SetFloat(targeted.ColB, b),
		fm.SetFloat(targeted.ColC, c),
		fm.SetString(targeted.ColCalibrationEquation, equation),
	} {
		if err != nil {
			return err
		}
	}
	warn.Flush(d.Log("calreport"))
	d.AppendLog("Calibration report joined: %d of %d features matched", used, m)
	return nil
}

func nanSlice(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = math.NaN()
	}
	return v
}
