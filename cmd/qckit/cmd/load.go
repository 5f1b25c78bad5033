package cmd

import (
	"fmt"
	"os"

	"github.com/ChrisMcGann/QCKit/pkg/config"
	"github.com/ChrisMcGann/QCKit/pkg/core"
	"github.com/ChrisMcGann/QCKit/pkg/reader/csvdataset"
	"github.com/ChrisMcGann/QCKit/pkg/targeted"
	"github.com/ChrisMcGann/QCKit/pkg/writer/csvexport"
)

// readOptions turns the description flags and the SOP into reader options
func readOptions() (csvdataset.Options, error) {
	sop, err := config.Load(sopName)
	if err != nil {
		return csvdataset.Options{}, err
	}
	p, err := core.ParseAnalyticalPlatform(platform)
	if err != nil {
		return csvdataset.Options{}, err
	}
	vt, err := core.ParseVariableType(variableType)
	if err != nil {
		return csvdataset.Options{}, err
	}
	return csvdataset.Options{Platform: p, VariableType: vt, SOP: *sop, MethodName: methodName}, nil
}

// loadDataset reads dir/name as a plain or targeted dataset. For a plain
// dataset the targeted return is nil.
func loadDataset(dir, name string) (*core.Dataset, *targeted.Dataset, error) {
	opts, err := readOptions()
	if err != nil {
		return nil, nil, err
	}

	var d *core.Dataset
	var td *targeted.Dataset
	if isTargeted {
		if td, err = csvdataset.ReadTargeted(dir, name, opts); err != nil {
			return nil, nil, err
		}
		d = td.Dataset
	} else if d, err = csvdataset.Read(dir, name, opts); err != nil {
		return nil, nil, err
	}

	if sampleInfoCSV != "" {
		info, err := loadSampleInfoCSV(sampleInfoCSV)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load sample info CSV: %w", err)
		}
		if err := d.AddSampleInfo(info, sampleInfoKey); err != nil {
			return nil, nil, err
		}
		fmt.Printf("Joined %d sample info columns\n", len(info.Columns())-1)
	}

	fmt.Printf("Loaded %s: %d samples, %d features\n", name, d.NumSamples(), d.NumFeatures())
	return d, td, nil
}

func loadSampleInfoCSV(path string) (*core.Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return core.ReadTableCSV(file, sampleInfoKey)
}

// exportDataset writes d, or td when set, to the output flags' destination
func exportDataset(d *core.Dataset, td *targeted.Dataset, defaultName string) error {
	format, err := csvexport.ParseFormat(exportFormat)
	if err != nil {
		return err
	}
	name := outputName
	if name == "" {
		name = defaultName
	}

	if applyMasks {
		if td != nil {
			err = td.ApplyMasks()
		} else {
			err = d.ApplyMasks()
		}
		if err != nil {
			return fmt.Errorf("failed to apply masks: %w", err)
		}
	}

	if td != nil {
		err = csvexport.ExportTargeted(td, outputDir, name, format)
	} else {
		err = csvexport.Export(d, outputDir, name, format)
	}
	if err != nil {
		return fmt.Errorf("failed to export dataset: %w", err)
	}
	fmt.Printf("Output: %s (%s, %d samples, %d features)\n", outputDir, format, d.NumSamples(), d.NumFeatures())
	return nil
}
