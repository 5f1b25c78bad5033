package targeted

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/ChrisMcGann/QCKit/pkg/core"
)

// MergeKeys are the feature metadata columns that identify a feature across
// batches. The SOP's external identifier columns are added to them.
var MergeKeys = []string{core.ColFeatureName, core.ColCalibrationMethod, core.ColQuantificationType, core.ColUnit}

// Add merges two targeted datasets acquired with the same method in
// different batches. Batches are renumbered so the right side follows the
// left, samples are stacked and re-ordered by acquisition time, and features
// are outer-joined on MergeKeys. Feature columns outside the keys gain a
// _batch<k> suffix naming their source batch; run MergeLimitsOfQuantification
// on the result to collapse the limits.
func Add(left, right *Dataset) (*Dataset, error) {
	if left.Attributes.MethodName != right.Attributes.MethodName {
		return nil, fmt.Errorf("%w: method %q cannot be merged with method %q",
			core.ErrMergeIncompatibility, left.Attributes.MethodName, right.Attributes.MethodName)
	}
	for _, side := range []*Dataset{left, right} {
		if err := side.CheckShape(); err != nil {
			return nil, fmt.Errorf("dataset %s: %w", side.Name, err)
		}
	}
	var warn core.Warnings

	// Batches
	ls, rs := left.SampleMetadata.Copy(), right.SampleMetadata.Copy()
	lmap, lnext, err := renumberBatches(ls, core.ColBatch, 0)
	if err != nil {
		return nil, err
	}
	rmap, _, err := renumberBatches(rs, core.ColBatch, lnext)
	if err != nil {
		return nil, err
	}
	if ls.Has(core.ColCorrectionBatch) || rs.Has(core.ColCorrectionBatch) {
		_, cnext, err := renumberBatches(ls, core.ColCorrectionBatch, 0)
		if err != nil {
			return nil, err
		}
		if _, _, err := renumberBatches(rs, core.ColCorrectionBatch, cnext); err != nil {
			return nil, err
		}
	}

	// Samples
	samples := core.ConcatRows(ls, rs)
	if err := mergeRunOrder(samples, left, right, &warn); err != nil {
		return nil, err
	}

	// Features
	keys := slices.Clone(MergeKeys)
	for _, id := range left.Attributes.SOP.ExternalIDs {
		if !slices.Contains(keys, id) {
			keys = append(keys, id)
		}
	}
	lidx, ridx, err := joinFeatures(left.FeatureMetadata, right.FeatureMetadata, keys)
	if err != nil {
		return nil, err
	}
	features, err := mergeFeatureMetadata(left.FeatureMetadata.SelectRows(lidx), right.FeatureMetadata.SelectRows(ridx), keys, lmap, rmap)
	if err != nil {
		return nil, err
	}

	intensity, err := left.Intensity.SelectCols(lidx).AppendRows(right.Intensity.SelectCols(ridx))
	if err != nil {
		return nil, err
	}
	expected, err := left.ExpectedConcentration.SelectCols(lidx).AppendRows(right.ExpectedConcentration.SelectCols(ridx))
	if err != nil {
		return nil, err
	}

	merged, err := core.NewDataset(left.Name, intensity, samples, features, left.Platform, left.VariableType, left.Attributes.SOP)
	if err != nil {
		return nil, err
	}
	merged.SampleMask = append(slices.Clone(left.SampleMask), right.SampleMask...)
	for j := range merged.FeatureMask {
		l := lidx[j] >= 0 && left.FeatureMask[lidx[j]]
		r := ridx[j] >= 0 && right.FeatureMask[ridx[j]]
		merged.FeatureMask[j] = l || r
	}
	merged.Attributes.MethodName = left.Attributes.MethodName
	merged.Attributes.Log = append(slices.Clone(left.Attributes.Log), right.Attributes.Log...)
	merged.Logger = left.Logger
	for _, side := range []*Dataset{left, right} {
		for _, ex := range side.Excluded {
			merged.Excluded = append(merged.Excluded, ex.Copy())
		}
	}

	out := &Dataset{Dataset: merged, ExpectedConcentration: expected}
	for _, side := range []struct {
		cals []Calibration
		m    batchMap
	}{{left.Calibration, lmap}, {right.Calibration, rmap}} {
		for _, c := range side.cals {
			c, err := remapCalibration(c, side.m)
			if err != nil {
				return nil, err
			}
			out.Calibration = append(out.Calibration, c)
		}
	}

	if v := Check(out); !v.Dataset {
		err := v.Emit(out.Log("targeted"), core.ValidateOptions{Require: core.LevelDataset, RaiseError: true})
		return nil, fmt.Errorf("%w: merged dataset is invalid: %w", core.ErrMergeIncompatibility, err)
	}
	warn.Add("Per-batch limits of quantification kept; run MergeLimitsOfQuantification before use")
	warn.Flush(out.Log("targeted"))
	out.AppendLog("Merged %s (%d samples) and %s (%d samples): %d features", left.Name, left.NumSamples(),
		right.Name, right.NumSamples(), out.NumFeatures())
	return out, nil
}

// Sum merges datasets left to right, equal to repeated Add.
func Sum(ds ...*Dataset) (*Dataset, error) {
	if len(ds) == 0 {
		return nil, errors.New("no datasets to merge")
	}
	acc := ds[0].Copy()
	for _, d := range ds[1:] {
		var err error
		if acc, err = Add(acc, d); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// batchMap maps a side's batch numbers to merged ones. first is the
// number used for anything without a batch of its own.
type batchMap struct {
	to    map[float64]float64
	first float64
}

func mapBatch(m batchMap, b float64) float64 {
	if nb, ok := m.to[b]; ok {
		return nb
	}
	return m.first
}

// remapCalibration returns a copy of c with its batch and the Batch column
// of its sample metadata renumbered by m. NaN entries stay NaN.
func remapCalibration(c Calibration, m batchMap) (Calibration, error) {
	c = c.Copy()
	c.Batch = mapBatch(m, c.Batch)
	if c.SampleMetadata == nil || !c.SampleMetadata.Has(core.ColBatch) {
		return c, nil
	}
	v, err := c.SampleMetadata.Float(core.ColBatch)
	if err != nil {
		return c, err
	}
	for i, b := range v {
		if !math.IsNaN(b) {
			v[i] = mapBatch(m, b)
		}
	}
	return c, c.SampleMetadata.SetFloat(core.ColBatch, v)
}

// renumberBatches rewrites column name of t to offset+1, offset+2, ... in
// order of the original values. NaN entries stay NaN. A missing or empty
// column is filled with offset+1. The returned next is the offset for the
// following side.
func renumberBatches(t *core.Table, name string, offset int) (batchMap, int, error) {
	m := batchMap{to: make(map[float64]float64), first: float64(offset + 1)}
	n := t.NumRows()
	if !t.Has(name) {
		fill := make([]float64, n)
		for i := range fill {
			fill[i] = m.first
		}
		return m, offset + 1, t.SetFloat(name, fill)
	}
	v, err := t.Float(name)
	if err != nil {
		return m, 0, err
	}
	var distinct []float64
	for _, b := range v {
		if !math.IsNaN(b) && !slices.Contains(distinct, b) {
			distinct = append(distinct, b)
		}
	}
	if len(distinct) == 0 {
		for i := range v {
			v[i] = m.first
		}
		return m, offset + 1, t.SetFloat(name, v)
	}
	slices.Sort(distinct)
	for k, b := range distinct {
		m.to[b] = float64(offset + k + 1)
	}
	for i, b := range v {
		if !math.IsNaN(b) {
			v[i] = m.to[b]
		}
	}
	return m, offset + len(distinct), t.SetFloat(name, v)
}

// mergeRunOrder ranks the stacked samples by acquisition time. Without
// times the right side's run orders follow the left's.
func mergeRunOrder(samples *core.Table, left, right *Dataset, warn *core.Warnings) error {
	if samples.Has(core.ColAcquiredTime) {
		ts, err := samples.Time(core.ColAcquiredTime)
		if err != nil {
			return err
		}
		if !slices.ContainsFunc(ts, func(t time.Time) bool { return t.IsZero() }) {
			return samples.SetFloat(core.ColRunOrder, core.RunOrderFromTimes(ts))
		}
	}
	warn.Add("%s incomplete, %s of %s appended after %s", core.ColAcquiredTime, core.ColRunOrder, right.Name, left.Name)
	if !left.SampleMetadata.Has(core.ColRunOrder) || !right.SampleMetadata.Has(core.ColRunOrder) {
		return nil
	}
	lro, err := left.SampleMetadata.Float(core.ColRunOrder)
	if err != nil {
		return err
	}
	rro, err := right.SampleMetadata.Float(core.ColRunOrder)
	if err != nil {
		return err
	}
	next := 0.0
	for _, x := range lro {
		if !math.IsNaN(x) {
			next = math.Max(next, x+1)
		}
	}
	ro := slices.Clone(lro)
	for _, x := range rro {
		ro = append(ro, x+next)
	}
	return samples.SetFloat(core.ColRunOrder, ro)
}

// joinFeatures outer-joins two feature tables on keys. The merged feature
// order is the left's followed by the right's unmatched features; the
// returned index slices give each merged feature's row on either side, -1
// when absent.
func joinFeatures(left, right *core.Table, keys []string) (lidx, ridx []int, err error) {
	keyOf := func(t *core.Table, row int) string {
		parts := make([]string, len(keys))
		for k, name := range keys {
			parts[k] = t.Text(name, row)
		}
		return strings.Join(parts, "\x1f")
	}
	pos := make(map[string]int)
	for j := 0; j < left.NumRows(); j++ {
		k := keyOf(left, j)
		if _, ok := pos[k]; ok {
			return nil, nil, fmt.Errorf("%w: feature %q appears twice in the left dataset", core.ErrMergeIncompatibility, left.Text(core.ColFeatureName, j))
		}
		pos[k] = len(lidx)
		lidx = append(lidx, j)
		ridx = append(ridx, -1)
	}
	for j := 0; j < right.NumRows(); j++ {
		k := keyOf(right, j)
		m, ok := pos[k]
		switch {
		case !ok:
			pos[k] = len(lidx)
			lidx = append(lidx, -1)
			ridx = append(ridx, j)
		case ridx[m] >= 0:
			return nil, nil, fmt.Errorf("%w: feature %q appears twice in the right dataset", core.ErrMergeIncompatibility, right.Text(core.ColFeatureName, j))
		default:
			ridx[m] = j
		}
	}

	seen := make(map[string]bool, len(lidx))
	for m := range lidx {
		var name string
		if lidx[m] >= 0 {
			name = left.Text(core.ColFeatureName, lidx[m])
		} else {
			name = right.Text(core.ColFeatureName, ridx[m])
		}
		if seen[name] {
			return nil, nil, fmt.Errorf("%w: feature %q differs between datasets in %s",
				core.ErrMergeIncompatibility, name, strings.Join(keys[1:], ", "))
		}
		seen[name] = true
	}
	return lidx, ridx, nil
}

// mergeFeatureMetadata builds the merged feature table from both sides
// projected onto the merged feature list. Key columns take the left value
// where present; every other column is suffixed with its source batch.
func mergeFeatureMetadata(left, right *core.Table, keys []string, lmap, rmap batchMap) (*core.Table, error) {
	n := left.NumRows()
	out := core.NewTable(n)
	for _, key := range keys {
		if !left.Has(key) && !right.Has(key) {
			continue
		}
		merged := make([]string, n)
		for j := range merged {
			merged[j] = left.Text(key, j)
			if merged[j] == "" {
				merged[j] = right.Text(key, j)
			}
		}
		if err := out.SetString(key, merged); err != nil {
			return nil, err
		}
	}
	for _, side := range []struct {
		t *core.Table
		m batchMap
	}{{left, lmap}, {right, rmap}} {
		for _, name := range side.t.Columns() {
			if slices.Contains(keys, name) {
				continue
			}
			to := batchName(name, int(side.m.first))
			if base, k, ok := batchColumn(name); ok {
				to = batchName(base, int(mapBatch(side.m, float64(k))))
			}
			if out.Has(to) {
				return nil, fmt.Errorf("%w: feature column %q produced twice", core.ErrMergeIncompatibility, to)
			}
			if err := copyColumn(out, side.t, name, to); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func copyColumn(dst, src *core.Table, from, to string) error {
	kind, _ := src.Kind(from)
	switch kind {
	case core.KindFloat:
		v, err := src.Float(from)
		if err != nil {
			return err
		}
		return dst.SetFloat(to, v)
	case core.KindTime:
		v, err := src.Time(from)
		if err != nil {
			return err
		}
		return dst.SetTime(to, v)
	default:
		v, err := src.String(from)
		if err != nil {
			return err
		}
		return dst.SetString(to, v)
	}
}
