// Package csvdataset reads datasets written in the CSV layout of
// pkg/writer/csvexport
package csvdataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ChrisMcGann/QCKit/pkg/config"
	"github.com/ChrisMcGann/QCKit/pkg/core"
	"github.com/ChrisMcGann/QCKit/pkg/targeted"
	"github.com/ChrisMcGann/QCKit/pkg/writer/csvexport"
)

// Reader provides streaming access to the rows of an intensity CSV
type Reader struct {
	csv     *csv.Reader
	cols    int
	lineNum int
	current []float64
	err     error
}

// NewReader creates a new intensity reader. cols is the expected number of
// fields per line; a negative value takes it from the first line.
func NewReader(r io.Reader, cols int) *Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	return &Reader{csv: cr, cols: cols}
}

// Next advances to the next row. Returns false at the end of input or on error.
func (r *Reader) Next() bool {
	r.current = nil

	rec, err := r.csv.Read()
	if err != nil {
		if err != io.EOF {
			r.err = fmt.Errorf("line %d: %w", r.lineNum+1, err)
		}
		return false
	}
	r.lineNum++

	if r.cols < 0 {
		r.cols = len(rec)
	}
	if len(rec) != r.cols {
		r.err = fmt.Errorf("line %d: %w: expected %d fields, got %d", r.lineNum, core.ErrShapeMismatch, r.cols, len(rec))
		return false
	}

	row := make([]float64, len(rec))
	for j, cell := range rec {
		v, err := ParseValue(cell)
		if err != nil {
			r.err = fmt.Errorf("line %d, field %d: %w", r.lineNum, j+1, err)
			return false
		}
		row[j] = v
	}
	r.current = row
	return true
}

// Row returns the current row
func (r *Reader) Row() []float64 {
	return r.current
}

// Err returns any error encountered during reading
func (r *Reader) Err() error {
	return r.err
}

// ParseValue parses an intensity cell. Empty cells are NaN and the LOQ
// tokens are -Inf and +Inf.
func ParseValue(s string) (float64, error) {
	switch s = strings.TrimSpace(s); s {
	case "", "NaN", "nan":
		return math.NaN(), nil
	case csvexport.BelowLLOQ:
		return math.Inf(-1), nil
	case csvexport.AboveULOQ:
		return math.Inf(1), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid intensity %q", s)
	}
	return v, nil
}

// ReadMatrix reads a whole intensity file with cols columns
func ReadMatrix(r io.Reader, cols int) (*core.Matrix, error) {
	reader := NewReader(r, cols)
	var data []float64
	rows := 0
	for reader.Next() {
		data = append(data, reader.Row()...)
		rows++
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}
	if rows == 0 {
		return core.NewMatrix(0, max(cols, 0), nil), nil
	}
	return core.NewMatrix(rows, len(data)/rows, data), nil
}

// Options describe what the files alone do not record
type Options struct {
	Platform     core.AnalyticalPlatform
	VariableType core.VariableType
	SOP          config.SOP
	// MethodName defaults to the dataset name
	MethodName string
}

// Read loads <name>_sampleMetadata.csv, <name>_featureMetadata.csv and
// <name>_intensityData.csv from dir
func Read(dir, name string, opts Options) (*core.Dataset, error) {
	samples, err := readTable(filepath.Join(dir, name+csvexport.SampleMetadataFile))
	if err != nil {
		return nil, err
	}
	features, err := readTable(filepath.Join(dir, name+csvexport.FeatureMetadataFile))
	if err != nil {
		return nil, err
	}
	x, err := readMatrix(filepath.Join(dir, name+csvexport.IntensityDataFile), features.NumRows())
	if err != nil {
		return nil, err
	}

	d, err := core.NewDataset(name, x, samples, features, opts.Platform, opts.VariableType, opts.SOP)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", name, err)
	}
	if err := core.RequireDataset(d); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", name, err)
	}
	d.Attributes.MethodName = opts.MethodName
	if d.Attributes.MethodName == "" {
		d.Attributes.MethodName = name
	}
	d.AppendLog("Read from %s", dir)
	return d, nil
}

// ReadTargeted loads a targeted dataset: the CSV layout plus expected
// concentrations and every <name>_calibration_batch<k> file set.
func ReadTargeted(dir, name string, opts Options) (*targeted.Dataset, error) {
	d, err := Read(dir, name, opts)
	if err != nil {
		return nil, err
	}
	expected, err := readMatrix(filepath.Join(dir, name+csvexport.ExpectedConcentrationFile), d.NumFeatures())
	if errors.Is(err, os.ErrNotExist) {
		expected = nil
		d.Log("csvdataset").Warn("no expected concentrations, filled with NaN", "dataset", name)
	} else if err != nil {
		return nil, err
	}

	cals, err := readCalibrations(dir, name)
	if err != nil {
		return nil, err
	}
	return targeted.New(d, expected, cals...)
}

func readCalibrations(dir, name string) ([]targeted.Calibration, error) {
	pattern := filepath.Join(dir, name+"_calibration_batch*"+csvexport.SampleMetadataFile)
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}

	var cals []targeted.Calibration
	for _, path := range paths {
		base := strings.TrimSuffix(filepath.Base(path), csvexport.SampleMetadataFile)
		batch, err := strconv.ParseFloat(strings.TrimPrefix(base, name+"_calibration_batch"), 64)
		if err != nil {
			continue
		}
		prefix := filepath.Join(dir, base)

		c := targeted.Calibration{Batch: batch}
		if c.SampleMetadata, err = readTable(path); err != nil {
			return nil, err
		}
		if c.FeatureMetadata, err = readTable(prefix + csvexport.FeatureMetadataFile); err != nil {
			return nil, err
		}
		m := c.FeatureMetadata.NumRows()
		if c.Intensity, err = readMatrix(prefix+csvexport.IntensityDataFile, m); err != nil {
			return nil, err
		}
		c.ExpectedConcentration, err = readMatrix(prefix+csvexport.ExpectedConcentrationFile, m)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		peaks, err := filepath.Glob(prefix + "_peak*.csv")
		if err != nil {
			return nil, err
		}
		for _, p := range peaks {
			key := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(p), base+"_peak"), ".csv")
			if c.PeakInfo == nil {
				c.PeakInfo = make(map[string]*core.Matrix)
			}
			if c.PeakInfo[key], err = readMatrix(p, m); err != nil {
				return nil, err
			}
		}
		cals = append(cals, c)
	}
	sort.Slice(cals, func(a, b int) bool { return cals[a].Batch < cals[b].Batch })
	return cals, nil
}

// textColumns are identifier columns that may look numeric
var textColumns = []string{targeted.ColCompound, targeted.ColTargetLynxID, targeted.ColCalibrationEquation}

func readTable(path string) (*core.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	t, err := core.ReadTableCSV(f, textColumns...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func readMatrix(path string, cols int) (*core.Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	x, err := ReadMatrix(f, cols)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return x, nil
}
