package targeted

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/ChrisMcGann/QCKit/pkg/core"
)

// ApplyLimitsOfQuantification censors the intensity data: values below LLOQ
// become -Inf and values above ULOQ +Inf (ULOQ is ignored when onlyLLOQ is
// set). Monitored features are left untouched. Features lacking the limits
// they need are removed unless they are Monitored or QuantOther.
func (d *Dataset) ApplyLimitsOfQuantification(onlyLLOQ bool) error {
	if err := core.RequireDataset(d.Dataset); err != nil {
		return err
	}
	return d.applyLOQ(onlyLLOQ, nil)
}

// ResponseReference picks the calibration sample whose response over area
// estimates each feature's response factor. PerFeature takes precedence over
// Sample; with neither the middle calibration sample is used.
type ResponseReference struct {
	Sample     string
	PerFeature map[string]string
}

// ApplyNoiseFilledLimitsOfQuantification is ApplyLimitsOfQuantification
// with values below LLOQ replaced by the concentration implied by the
// feature's noise area under its calibration equation, rather than -Inf.
func (d *Dataset) ApplyNoiseFilledLimitsOfQuantification(onlyLLOQ bool, ref ResponseReference) error {
	if err := core.RequireDataset(d.Dataset); err != nil {
		return err
	}
	var warn core.Warnings
	below, err := d.noiseConcentrations(ref, &warn)
	if err != nil {
		return err
	}
	warn.Flush(d.Log("targeted"))
	return d.applyLOQ(onlyLLOQ, below)
}

// applyLOQ implements both LOQ variants. below, when set, holds the
// per-feature replacement for values under LLOQ; NaN entries fall back to
// -Inf.
func (d *Dataset) applyLOQ(onlyLLOQ bool, below []float64) error {
	var warn core.Warnings
	qt, lloq, uloq, err := d.limits(onlyLLOQ)
	if err != nil {
		return err
	}

	remove := make([]bool, len(qt))
	var removed []string
	names, _ := d.FeatureNames()
	for j, q := range qt {
		if q == core.Monitored || q == core.QuantOther {
			continue
		}
		if math.IsNaN(lloq[j]) || (!onlyLLOQ && math.IsNaN(uloq[j])) {
			remove[j] = true
			removed = append(removed, names[j])
		}
	}
	if len(removed) > 0 {
		if below != nil {
			kept := below[:0:0]
			for j, r := range remove {
				if !r {
					kept = append(kept, below[j])
				}
			}
			below = kept
		}
		if err := d.removeFeatures(remove); err != nil {
			return err
		}
		warn.Add("Removed %d features without limits of quantification: %s", len(removed), strings.Join(removed, ", "))
		if qt, lloq, uloq, err = d.limits(onlyLLOQ); err != nil {
			return err
		}
	}

	censor := func(x *core.Matrix) {
		n, _ := x.Dims()
		for j, q := range qt {
			if q == core.Monitored {
				continue
			}
			low := math.Inf(-1)
			if below != nil && !math.IsNaN(below[j]) {
				low = below[j]
			}
			for i := 0; i < n; i++ {
				v := x.At(i, j)
				if math.IsNaN(v) || math.IsInf(v, 0) {
					continue
				}
				switch {
				case v < lloq[j]:
					x.Set(i, j, low)
				case !onlyLLOQ && v > uloq[j]:
					x.Set(i, j, math.Inf(1))
				}
			}
		}
	}
	censor(d.Intensity)
	if len(d.Calibration) == 1 && d.Calibration[0].Intensity != nil {
		if _, m := d.Calibration[0].Intensity.Dims(); m == len(qt) {
			censor(d.Calibration[0].Intensity)
		}
	}

	warn.Flush(d.Log("targeted"))
	mode := "LLOQ and ULOQ"
	if onlyLLOQ {
		mode = "LLOQ only"
	}
	if below != nil {
		mode += ", noise filled"
	}
	d.AppendLog("Limits of quantification applied (%s)", mode)
	return nil
}

// limits reads the quantification types and limits. Comparisons against a
// NaN limit are false, so uloq is all NaN when onlyLLOQ is set.
func (d *Dataset) limits(onlyLLOQ bool) (qt []core.QuantificationType, lloq, uloq []float64, err error) {
	if qt, err = d.QuantificationTypes(); err != nil {
		return nil, nil, nil, err
	}
	if lloq, err = d.FeatureMetadata.Float(core.ColLLOQ); err != nil {
		return nil, nil, nil, err
	}
	if onlyLLOQ {
		uloq = make([]float64, len(qt))
		for j := range uloq {
			uloq[j] = math.NaN()
		}
		return qt, lloq, uloq, nil
	}
	if uloq, err = d.FeatureMetadata.Float(core.ColULOQ); err != nil {
		return nil, nil, nil, err
	}
	return qt, lloq, uloq, nil
}

// calibrationEquations maps the supported equations, written without
// spaces, to their evaluation for a peak area.
var calibrationEquations = map[string]func(area, rf, a, b, c float64) float64{
	"((area*responseFactor)-b)/a": func(area, rf, a, b, _ float64) float64 {
		return (area*rf - b) / a
	},
	"10**((log10(area*responseFactor)-b)/a)": func(area, rf, a, b, _ float64) float64 {
		return math.Pow(10, (math.Log10(area*rf)-b)/a)
	},
	"area/a": func(area, _, a, _, _ float64) float64 {
		return area / a
	},
	"(-b+sqrt(b**2-4*a*(c-area*responseFactor)))/(2*a)": func(area, rf, a, b, c float64) float64 {
		return (-b + math.Sqrt(b*b-4*a*(c-area*rf))) / (2 * a)
	},
}

// CalibrationEquation returns the evaluator for a calibration equation.
func CalibrationEquation(expr string) (func(area, responseFactor, a, b, c float64) float64, error) {
	f, ok := calibrationEquations[strings.Join(strings.Fields(expr), "")]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported calibration equation %q", core.ErrBadEnumValue, expr)
	}
	return f, nil
}

// noiseConcentrations returns, per feature, the concentration equivalent
// of the noise area. Monitored features and features with an incomplete
// calibration get NaN.
func (d *Dataset) noiseConcentrations(ref ResponseReference, warn *core.Warnings) ([]float64, error) {
	if len(d.Calibration) != 1 {
		return nil, fmt.Errorf("%w: noise filling needs a single-batch calibration, dataset has %d", core.ErrMergeIncompatibility, len(d.Calibration))
	}
	cal := d.Calibration[0]
	response, area := cal.PeakInfo[PeakResponse], cal.PeakInfo[PeakArea]
	if response == nil || area == nil {
		return nil, fmt.Errorf("%w: calibration lacks %s and %s peak information", core.ErrMissingColumn, PeakResponse, PeakArea)
	}
	calSamples, err := cal.SampleMetadata.String(core.ColSampleFileName)
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}
	if len(calSamples) == 0 {
		return nil, fmt.Errorf("%w: calibration has no samples", core.ErrInsufficientReferences)
	}

	names, err := d.FeatureNames()
	if err != nil {
		return nil, err
	}
	qt, err := d.QuantificationTypes()
	if err != nil {
		return nil, err
	}
	cols := make(map[string][]float64)
	for _, name := range []string{ColNoiseArea, ColA, ColB} {
		if cols[name], err = d.FeatureMetadata.Float(name); err != nil {
			return nil, err
		}
	}
	c := make([]float64, len(names))
	if d.FeatureMetadata.Has(ColC) {
		if c, err = d.FeatureMetadata.Float(ColC); err != nil {
			return nil, err
		}
	}
	equations, err := d.FeatureMetadata.String(ColCalibrationEquation)
	if err != nil {
		return nil, err
	}

	rowOf := func(sample string) (int, error) {
		i := slices.Index(calSamples, sample)
		if i < 0 {
			return 0, fmt.Errorf("%w: response reference %q is not a calibration sample", core.ErrMissingColumn, sample)
		}
		return i, nil
	}
	out := make([]float64, len(names))
	for j, name := range names {
		out[j] = math.NaN()
		if qt[j] == core.Monitored {
			continue
		}
		var row int
		switch sample, ok := ref.PerFeature[name]; {
		case ok:
			if row, err = rowOf(sample); err != nil {
				return nil, err
			}
		case ref.Sample != "":
			if row, err = rowOf(ref.Sample); err != nil {
				return nil, err
			}
		default:
			row = len(calSamples) / 2
			warn.Add("No response reference given, using the middle calibration sample %s", calSamples[row])
		}
		eq, err := CalibrationEquation(equations[j])
		if err != nil {
			return nil, fmt.Errorf("feature %s: %w", name, err)
		}
		rf := response.At(row, j) / area.At(row, j)
		v := eq(cols[ColNoiseArea][j], rf, cols[ColA][j], cols[ColB][j], c[j])
		if math.IsNaN(v) || math.IsInf(v, 0) {
			warn.Add("Feature %s: noise concentration is not finite, values below LLOQ set to -Inf", name)
			continue
		}
		out[j] = v
	}
	return out, nil
}

// MergeLimitsOfQuantification collapses the per-batch limits left by Add:
// LLOQ becomes the largest LLOQ_batch<k> and ULOQ the smallest
// ULOQ_batch<k>. The per-batch columns are dropped unless keepBatchLOQ is
// set, and the limits are applied again.
func (d *Dataset) MergeLimitsOfQuantification(keepBatchLOQ bool) error {
	var lcols, ucols []string
	for _, name := range d.FeatureMetadata.Columns() {
		base, _, ok := batchColumn(name)
		switch {
		case ok && base == core.ColLLOQ:
			lcols = append(lcols, name)
		case ok && base == core.ColULOQ:
			ucols = append(ucols, name)
		}
	}
	if len(lcols) == 0 || len(ucols) == 0 {
		return fmt.Errorf("%w: no per-batch %s and %s columns, dataset has not been merged", core.ErrMissingColumn, core.ColLLOQ, core.ColULOQ)
	}
	lloq, err := d.reduceColumns(lcols, math.Max)
	if err != nil {
		return err
	}
	uloq, err := d.reduceColumns(ucols, math.Min)
	if err != nil {
		return err
	}
	if err := d.FeatureMetadata.SetFloat(core.ColLLOQ, lloq); err != nil {
		return err
	}
	if err := d.FeatureMetadata.SetFloat(core.ColULOQ, uloq); err != nil {
		return err
	}
	if !keepBatchLOQ {
		for _, name := range append(lcols, ucols...) {
			d.FeatureMetadata.Drop(name)
		}
	}
	d.AppendLog("Limits of quantification merged across %d batches", len(lcols))
	return d.ApplyLimitsOfQuantification(false)
}

// reduceColumns folds the finite values of cols per row with f; rows with
// none are NaN.
func (d *Dataset) reduceColumns(cols []string, f func(a, b float64) float64) ([]float64, error) {
	out := make([]float64, d.NumFeatures())
	for j := range out {
		out[j] = math.NaN()
	}
	for _, name := range cols {
		v, err := d.FeatureMetadata.Float(name)
		if err != nil {
			return nil, err
		}
		for j, x := range v {
			switch {
			case math.IsNaN(x):
			case math.IsNaN(out[j]):
				out[j] = x
			default:
				out[j] = f(out[j], x)
			}
		}
	}
	return out, nil
}

const batchSuffix = "_batch"

// batchColumn splits "<base>_batch<k>".
func batchColumn(name string) (base string, k int, ok bool) {
	i := strings.LastIndex(name, batchSuffix)
	if i < 0 {
		return "", 0, false
	}
	k, err := strconv.Atoi(name[i+len(batchSuffix):])
	if err != nil {
		return "", 0, false
	}
	return name[:i], k, true
}

func batchName(base string, k int) string {
	return base + batchSuffix + strconv.Itoa(k)
}
