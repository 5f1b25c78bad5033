// Package calreport provides a streaming reader for calibration report CSV
// files and joins their limits of quantification and calibration equations
// onto targeted feature metadata
package calreport

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ChrisMcGann/QCKit/pkg/core"
	"github.com/ChrisMcGann/QCKit/pkg/targeted"
)

// Entry is one compound of a calibration report
type Entry struct {
	Compound     string
	TargetLynxID string
	LLOQ         float64
	ULOQ         float64
	NoiseArea    float64
	A, B, C      float64
	Equation     string
}

// required lists the columns every report carries
var required = []string{targeted.ColCompound, targeted.ColTargetLynxID, core.ColLLOQ, core.ColULOQ}

// Reader provides streaming access to calibration report entries
type Reader struct {
	csv     *csv.Reader
	header  map[string]int
	lineNum int
	current *Entry
	err     error
}

// NewReader creates a new calibration report reader
func NewReader(r io.Reader) *Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return &Reader{csv: cr}
}

// Next advances to the next entry. Returns false when no more entries or error.
func (r *Reader) Next() bool {
	r.current = nil

	if r.header == nil {
		if err := r.readHeader(); err != nil {
			if err != io.EOF {
				r.err = err
			}
			return false
		}
	}

	rec, err := r.csv.Read()
	if err != nil {
		if err != io.EOF {
			r.err = fmt.Errorf("line %d: %w", r.lineNum+1, err)
		}
		return false
	}
	r.lineNum++

	entry, err := r.parseEntry(rec)
	if err != nil {
		r.err = fmt.Errorf("line %d: %w", r.lineNum, err)
		return false
	}
	r.current = entry
	return true
}

// Entry returns the current entry
func (r *Reader) Entry() *Entry {
	return r.current
}

// Err returns any error encountered during reading
func (r *Reader) Err() error {
	return r.err
}

// HasNoiseColumns reports whether the report carries the columns needed for
// noise-filled limits of quantification. Valid after the first call to Next.
func (r *Reader) HasNoiseColumns() bool {
	for _, c := range []string{targeted.ColNoiseArea, targeted.ColA, targeted.ColB} {
		if _, ok := r.header[c]; !ok {
			return false
		}
	}
	return true
}

func (r *Reader) readHeader() error {
	rec, err := r.csv.Read()
	if err != nil {
		return err
	}
	r.lineNum++

	r.header = make(map[string]int, len(rec))
	for i, name := range rec {
		r.header[strings.TrimSpace(name)] = i
	}
	var missing []string
	for _, c := range required {
		if _, ok := r.header[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: calibration report lacks %s", core.ErrMissingColumn, strings.Join(missing, ", "))
	}
	return nil
}

func (r *Reader) parseEntry(rec []string) (*Entry, error) {
	cell := func(name string) string {
		i, ok := r.header[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	var err error
	number := func(name string) float64 {
		s := cell(name)
		if s == "" || err != nil {
			return math.NaN()
		}
		v, perr := strconv.ParseFloat(s, 64)
		if perr != nil {
			err = fmt.Errorf("invalid %s %q", name, s)
		}
		return v
	}

	e := &Entry{
		Compound:     cell(targeted.ColCompound),
		TargetLynxID: cell(targeted.ColTargetLynxID),
		LLOQ:         number(core.ColLLOQ),
		ULOQ:         number(core.ColULOQ),
		NoiseArea:    number(targeted.ColNoiseArea),
		A:            number(targeted.ColA),
		B:            number(targeted.ColB),
		C:            number(targeted.ColC),
		Equation:     cell(targeted.ColCalibrationEquation),
	}
	if err != nil {
		return nil, err
	}
	if e.Compound == "" {
		return nil, fmt.Errorf("empty %s", targeted.ColCompound)
	}
	return e, nil
}

// ReadAll reads every entry of a report
func ReadAll(r io.Reader) ([]Entry, error) {
	reader := NewReader(r)
	var entries []Entry
	for reader.Next() {
		entries = append(entries, *reader.Entry())
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
