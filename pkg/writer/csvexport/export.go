// Package csvexport writes datasets as CSV, unified CSV or ISA-Tab files
package csvexport

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ChrisMcGann/QCKit/pkg/core"
	"github.com/ChrisMcGann/QCKit/pkg/targeted"
)

// Format selects the export layout
type Format int

// Export formats
const (
	// CSV writes <name>_sampleMetadata.csv, <name>_featureMetadata.csv and
	// <name>_intensityData.csv; targeted datasets add
	// <name>_expectedConcentration.csv and their calibration.
	CSV Format = iota
	// UnifiedCSV writes <name>_combinedData.csv
	UnifiedCSV
	// ISATAB writes s_<name>.txt and a_<name>.txt next to the CSV files
	// they reference
	ISATAB
)

var formatNames = []string{"CSV", "UnifiedCSV", "ISATAB"}

func (f Format) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return fmt.Sprintf("Format(%d)", int(f))
	}
	return formatNames[f]
}

// ParseFormat parses a format name, ignoring case
func ParseFormat(s string) (Format, error) {
	for i, name := range formatNames {
		if strings.EqualFold(name, s) {
			return Format(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown export format %q (expected one of %s)", core.ErrBadEnumValue, s, strings.Join(formatNames, ", "))
}

// Tokens written in place of the censoring sentinels
const (
	BelowLLOQ = "<LLOQ"
	AboveULOQ = ">ULOQ"
)

// File name suffixes of the CSV layout
const (
	SampleMetadataFile        = "_sampleMetadata.csv"
	FeatureMetadataFile       = "_featureMetadata.csv"
	IntensityDataFile         = "_intensityData.csv"
	ExpectedConcentrationFile = "_expectedConcentration.csv"
	CombinedDataFile          = "_combinedData.csv"
)

// FormatValue renders an intensity. NaN is empty, -Inf and +Inf are the
// LOQ tokens.
func FormatValue(v float64) string {
	switch {
	case math.IsNaN(v):
		return ""
	case math.IsInf(v, -1):
		return BelowLLOQ
	case math.IsInf(v, 1):
		return AboveULOQ
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Export writes d to dir in the given format
func Export(d *core.Dataset, dir, name string, format Format) error {
	return export(d, d.Intensity, dir, name, format)
}

// ExportTargeted writes a targeted dataset. Intensities are scaled by
// 100/Dilution per sample; samples without a dilution are written as is.
// The CSV and ISATAB layouts also carry expected concentrations and the
// calibration of every batch.
func ExportTargeted(d *targeted.Dataset, dir, name string, format Format) error {
	scaled, err := scaleByDilution(d.Dataset)
	if err != nil {
		return err
	}
	if err := export(d.Dataset, scaled, dir, name, format); err != nil {
		return err
	}
	if format == UnifiedCSV {
		return nil
	}

	if err := writeMatrixFile(filepath.Join(dir, name+ExpectedConcentrationFile), d.ExpectedConcentration); err != nil {
		return err
	}
	for _, c := range d.Calibration {
		prefix := CalibrationPrefix(name, c.Batch)
		if err := writeTableFile(filepath.Join(dir, prefix+SampleMetadataFile), c.SampleMetadata); err != nil {
			return err
		}
		if err := writeTableFile(filepath.Join(dir, prefix+FeatureMetadataFile), c.FeatureMetadata); err != nil {
			return err
		}
		if err := writeMatrixFile(filepath.Join(dir, prefix+IntensityDataFile), c.Intensity); err != nil {
			return err
		}
		if c.ExpectedConcentration != nil {
			if err := writeMatrixFile(filepath.Join(dir, prefix+ExpectedConcentrationFile), c.ExpectedConcentration); err != nil {
				return err
			}
		}
		for key, m := range c.PeakInfo {
			if err := writeMatrixFile(filepath.Join(dir, prefix+"_peak"+key+".csv"), m); err != nil {
				return err
			}
		}
	}
	d.AppendLog("Exported expected concentrations and %d calibrations to %s", len(d.Calibration), dir)
	return nil
}

// CalibrationPrefix is the file name prefix of a batch's calibration
func CalibrationPrefix(name string, batch float64) string {
	return name + "_calibration_batch" + strconv.FormatFloat(batch, 'g', -1, 64)
}

func export(d *core.Dataset, x *core.Matrix, dir, name string, format Format) error {
	if err := d.CheckShape(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	switch format {
	case CSV:
		if err := writeCSV(d, x, dir, name); err != nil {
			return err
		}
	case UnifiedCSV:
		if err := writeFile(filepath.Join(dir, name+CombinedDataFile), func(w io.Writer) error {
			return writeUnified(w, d, x)
		}); err != nil {
			return err
		}
	case ISATAB:
		if err := writeCSV(d, x, dir, name); err != nil {
			return err
		}
		if err := writeISATAB(d, dir, name); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown export format %d", core.ErrBadEnumValue, int(format))
	}
	d.AppendLog("Exported %s as %s to %s", d.Name, format, dir)
	return nil
}

func writeCSV(d *core.Dataset, x *core.Matrix, dir, name string) error {
	if err := writeTableFile(filepath.Join(dir, name+SampleMetadataFile), d.SampleMetadata); err != nil {
		return err
	}
	if err := writeTableFile(filepath.Join(dir, name+FeatureMetadataFile), d.FeatureMetadata); err != nil {
		return err
	}
	return writeMatrixFile(filepath.Join(dir, name+IntensityDataFile), x)
}

// writeUnified writes one table: a header of sample metadata columns
// followed by feature names, one row per remaining feature metadata column
// labelled in the last sample column, then one row per sample.
func writeUnified(w io.Writer, d *core.Dataset, x *core.Matrix) error {
	cw := csv.NewWriter(w)
	sampleCols := d.SampleMetadata.Columns()
	featureCols := d.FeatureMetadata.Columns()
	names, err := d.FeatureNames()
	if err != nil {
		return err
	}
	if len(sampleCols) == 0 {
		return fmt.Errorf("%w: sample metadata has no columns", core.ErrMissingColumn)
	}

	width := len(sampleCols) + len(names)
	if err := cw.Write(append(sampleCols, names...)); err != nil {
		return err
	}
	rec := make([]string, width)
	for _, col := range featureCols {
		if col == core.ColFeatureName {
			continue
		}
		clear(rec)
		rec[len(sampleCols)-1] = col
		for j := range names {
			rec[len(sampleCols)+j] = d.FeatureMetadata.Text(col, j)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	for i := 0; i < d.NumSamples(); i++ {
		for k, col := range sampleCols {
			rec[k] = d.SampleMetadata.Text(col, i)
		}
		for j := range names {
			rec[len(sampleCols)+j] = FormatValue(x.At(i, j))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// scaleByDilution returns the intensities multiplied by 100/Dilution
func scaleByDilution(d *core.Dataset) (*core.Matrix, error) {
	x := d.Intensity.Copy()
	if !d.SampleMetadata.Has(core.ColDilution) {
		return x, nil
	}
	dil, err := d.SampleMetadata.Float(core.ColDilution)
	if err != nil {
		return nil, err
	}
	_, m := x.Dims()
	for i, f := range dil {
		if math.IsNaN(f) || f == 0 {
			continue
		}
		for j := 0; j < m; j++ {
			x.Set(i, j, x.At(i, j)*100/f)
		}
	}
	return x, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func writeTableFile(path string, t *core.Table) error {
	return writeFile(path, t.WriteCSV)
}

func writeMatrixFile(path string, x *core.Matrix) error {
	return writeFile(path, func(w io.Writer) error {
		return WriteMatrix(w, x)
	})
}

// WriteMatrix writes x without a header, one row per sample
func WriteMatrix(w io.Writer, x *core.Matrix) error {
	cw := csv.NewWriter(w)
	n, m := x.Dims()
	rec := make([]string, m)
	for i := 0; i < n; i++ {
		for j := range rec {
			rec[j] = FormatValue(x.At(i, j))
		}
		// A lone empty field reads back as a blank line.
		if m == 1 && rec[0] == "" {
			rec[0] = "NaN"
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
