package csvexport

import (
	"encoding/csv"
	"io"
	"path/filepath"

	"github.com/ChrisMcGann/QCKit/pkg/core"
)

// assayColumns are sample metadata columns reported as assay parameters
// rather than study characteristics.
var assayColumns = map[string]bool{
	core.ColRunOrder:        true,
	core.ColAcquiredTime:    true,
	core.ColBatch:           true,
	core.ColCorrectionBatch: true,
	core.ColDilution:        true,
}

// writeISATAB writes the study and assay tables. The sample name is the
// Sample Base Name when present, the Sample File Name otherwise.
func writeISATAB(d *core.Dataset, dir, name string) error {
	sm := d.SampleMetadata
	sampleName := core.ColSampleBaseName
	if !sm.Has(sampleName) {
		sampleName = core.ColSampleFileName
	}
	if !sm.Has(sampleName) {
		return core.ErrMissingColumn
	}

	var characteristics, parameters []string
	for _, col := range sm.Columns() {
		switch {
		case col == core.ColSampleFileName || col == core.ColSampleBaseName:
		case assayColumns[col]:
			parameters = append(parameters, col)
		default:
			characteristics = append(characteristics, col)
		}
	}

	study := func(w io.Writer) error {
		header := []string{"Source Name", "Sample Name"}
		for _, col := range characteristics {
			header = append(header, "Characteristics["+col+"]")
		}
		return writeTSV(w, header, sm.NumRows(), func(i int) []string {
			rec := []string{sm.Text(sampleName, i), sm.Text(sampleName, i)}
			for _, col := range characteristics {
				rec = append(rec, sm.Text(col, i))
			}
			return rec
		})
	}

	assay := func(w io.Writer) error {
		header := []string{"Sample Name", "Assay Name"}
		for _, col := range parameters {
			header = append(header, "Parameter Value["+col+"]")
		}
		header = append(header, "Derived Data File")
		return writeTSV(w, header, sm.NumRows(), func(i int) []string {
			assayName := sm.Text(core.ColSampleFileName, i)
			if assayName == "" {
				assayName = sm.Text(sampleName, i)
			}
			rec := []string{sm.Text(sampleName, i), assayName}
			for _, col := range parameters {
				rec = append(rec, sm.Text(col, i))
			}
			return append(rec, name+IntensityDataFile)
		})
	}

	if err := writeFile(filepath.Join(dir, "s_"+name+".txt"), study); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, "a_"+name+".txt"), assay)
}

func writeTSV(w io.Writer, header []string, rows int, row func(int) []string) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := 0; i < rows; i++ {
		if err := cw.Write(row(i)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
