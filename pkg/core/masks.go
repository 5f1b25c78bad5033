package core

import (
	"fmt"
	"maps"
)

// ApplyMasks permanently removes masked samples and features. Removed slices
// are appended to Excluded, samples first, and both masks are reset to
// all-true over the surviving rows and columns.
func (d *Dataset) ApplyMasks() error {
	_, err := d.ApplyMasksWith(nil)
	return err
}

// ApplyMasksWith is ApplyMasks for datasets that carry further samples ×
// features containers. Each matrix in aligned is cut the same way as the
// intensity data; the trimmed matrices are returned under the same keys and
// the removed parts are recorded in Exclusion.Extra.
func (d *Dataset) ApplyMasksWith(aligned map[string]*Matrix) (map[string]*Matrix, error) {
	if err := d.CheckShape(); err != nil {
		return nil, err
	}
	if err := d.checkAligned(aligned); err != nil {
		return nil, err
	}
	out := maps.Clone(aligned)

	keep, drop := split(d.SampleMask)
	if len(drop) > 0 {
		ex := Exclusion{
			Flag:            ExcludedSamples,
			SampleMetadata:  d.SampleMetadata.SelectRows(drop),
			FeatureMetadata: d.FeatureMetadata.Copy(),
			Intensity:       d.Intensity.SelectRows(drop),
		}
		for name, m := range out {
			if ex.Extra == nil {
				ex.Extra = make(map[string]*Matrix, len(out))
			}
			ex.Extra[name] = m.SelectRows(drop)
			out[name] = m.SelectRows(keep)
		}
		d.Excluded = append(d.Excluded, ex)
		d.Intensity = d.Intensity.SelectRows(keep)
		d.SampleMetadata = d.SampleMetadata.SelectRows(keep)
		if d.Fit != nil {
			d.Fit = d.Fit.SelectRows(keep)
		}
		d.AppendLog("Excluded %d samples", len(drop))
	}

	keep, drop = split(d.FeatureMask)
	if len(drop) > 0 {
		out = d.cutFeatures(keep, drop, out)
		d.AppendLog("Excluded %d features", len(drop))
	}

	d.InitialiseMasks()
	return out, nil
}

// RemoveFeatures deletes the features flagged in remove, recording them as a
// feature exclusion, and reinitialises the masks. aligned is handled as in
// ApplyMasksWith.
func (d *Dataset) RemoveFeatures(remove []bool, aligned map[string]*Matrix) (map[string]*Matrix, error) {
	if len(remove) != d.NumFeatures() {
		return nil, fmt.Errorf("%w: removal vector has length %d, expected %d", ErrShapeMismatch, len(remove), d.NumFeatures())
	}
	if err := d.checkAligned(aligned); err != nil {
		return nil, err
	}
	keepMask := make([]bool, len(remove))
	for j, r := range remove {
		keepMask[j] = !r
	}
	keep, drop := split(keepMask)
	out := maps.Clone(aligned)
	if len(drop) == 0 {
		return out, nil
	}
	out = d.cutFeatures(keep, drop, out)
	d.InitialiseMasks()
	return out, nil
}

func (d *Dataset) cutFeatures(keep, drop []int, aligned map[string]*Matrix) map[string]*Matrix {
	ex := Exclusion{
		Flag:            ExcludedFeatures,
		SampleMetadata:  d.SampleMetadata.Copy(),
		FeatureMetadata: d.FeatureMetadata.SelectRows(drop),
		Intensity:       d.Intensity.SelectCols(drop),
	}
	for name, m := range aligned {
		if ex.Extra == nil {
			ex.Extra = make(map[string]*Matrix, len(aligned))
		}
		ex.Extra[name] = m.SelectCols(drop)
		aligned[name] = m.SelectCols(keep)
	}
	d.Excluded = append(d.Excluded, ex)
	d.Intensity = d.Intensity.SelectCols(keep)
	d.FeatureMetadata = d.FeatureMetadata.SelectRows(keep)
	if d.Fit != nil {
		d.Fit = d.Fit.SelectCols(keep)
	}
	d.featureGeneration++
	return aligned
}

func (d *Dataset) checkAligned(aligned map[string]*Matrix) error {
	n, m := d.NumSamples(), d.NumFeatures()
	for name, a := range aligned {
		if r, c := a.Dims(); r != n || c != m {
			return fmt.Errorf("%w: %s is %d×%d, intensity data %d×%d", ErrShapeMismatch, name, r, c, n, m)
		}
	}
	return nil
}

// split returns the indices of true and false entries.
func split(mask []bool) (keep, drop []int) {
	keep = make([]int, 0, len(mask))
	for i, ok := range mask {
		if ok {
			keep = append(keep, i)
		} else {
			drop = append(drop, i)
		}
	}
	return keep, drop
}

// TouchFeatures marks the feature axis as changed by code outside
// this package that rebuilds FeatureMetadata.
func (d *Dataset) TouchFeatures() {
	d.featureGeneration++
}
