package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/QCKit/pkg/filter"
	"github.com/ChrisMcGann/QCKit/pkg/qcmetrics"
	"github.com/ChrisMcGann/QCKit/pkg/reader/calreport"
	"github.com/ChrisMcGann/QCKit/pkg/targeted"
)

var (
	// Flags for filter command
	rsdThreshold   float64
	corrThreshold  float64
	varianceRatio  float64
	blankThreshold float64
	noQCTests      []string
	artifactual    bool
	calReportCSV   string
	applyLOQ       bool
	onlyLLOQ       bool
	noiseFilled    bool
	responseRef    string
	cacheSize      int
)

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Update sample and feature masks",
	Long: `Mask samples by type and role, and features by the QC tests of the SOP:
study-pool RSD, correlation to dilution, variance ratio, blank level and
artefactual linkage. Spectral datasets are masked by ppm exclusion regions,
targeted datasets by quantification type and calibration method.

Examples:
  # Mask with SOP thresholds and drop masked rows and columns
  qckit filter --in data --name study --out filtered --apply-masks

  # Tighter RSD, no blank test, artefactual filter on
  qckit filter --in data --name study --out filtered --rsd 20 --skip blank --artifactual

  # Targeted: join a calibration report and censor below LLOQ only
  qckit filter --targeted --in data --name aa --out filtered --calibration-report cal.csv --loq --only-lloq`,
	RunE: runFilter,
}

func init() {
	filterCmd.Flags().Float64Var(&rsdThreshold, "rsd", 0, "Maximum study-pool RSD in percent (default: SOP value)")
	filterCmd.Flags().Float64Var(&corrThreshold, "corr", 0, "Minimum correlation to dilution (default: SOP value)")
	filterCmd.Flags().Float64Var(&varianceRatio, "variance-ratio", 0, "Minimum study to pool variance ratio (default: SOP value)")
	filterCmd.Flags().Float64Var(&blankThreshold, "blank", 0, "Minimum study to blank ratio (default: SOP value)")
	filterCmd.Flags().StringSliceVar(&noQCTests, "skip", nil, "QC tests to disable: rsd, corr, variance-ratio, blank")
	filterCmd.Flags().BoolVar(&artifactual, "artifactual", false, "Enable the artefactual linkage filter")
	filterCmd.Flags().IntVar(&cacheSize, "linkage-cache", 16, "Number of artefactual candidate lists to cache")
	filterCmd.Flags().StringVar(&calReportCSV, "calibration-report", "", "Targeted: calibration report CSV to join")
	filterCmd.Flags().BoolVar(&applyLOQ, "loq", false, "Targeted: apply limits of quantification")
	filterCmd.Flags().BoolVar(&onlyLLOQ, "only-lloq", false, "Targeted: censor below LLOQ only")
	filterCmd.Flags().BoolVar(&noiseFilled, "noise-filled", false, "Targeted: replace values below LLOQ with the noise concentration")
	filterCmd.Flags().StringVar(&responseRef, "response-reference", "", "Targeted: calibration sample giving the response factor")
}

func runFilter(cmd *cobra.Command, args []string) error {
	d, td, err := loadDataset(inputDir, datasetName)
	if err != nil {
		return err
	}

	// Set up filter config
	cfg, err := filter.DefaultConfig(d.Attributes.SOP)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("rsd") {
		cfg.RSDThreshold = rsdThreshold
	}
	if cmd.Flags().Changed("corr") {
		cfg.CorrThreshold = corrThreshold
	}
	if cmd.Flags().Changed("variance-ratio") {
		cfg.VarianceRatio = varianceRatio
	}
	if cmd.Flags().Changed("blank") {
		cfg.BlankThreshold = blankThreshold
	}
	for _, test := range noQCTests {
		switch strings.ToLower(strings.TrimSpace(test)) {
		case "rsd":
			cfg.RSDThreshold = filter.Off
		case "corr":
			cfg.CorrThreshold = filter.Off
		case "variance-ratio":
			cfg.VarianceRatio = filter.Off
		case "blank":
			cfg.BlankThreshold = filter.Off
		default:
			return fmt.Errorf("unknown QC test '%s', must be rsd, corr, variance-ratio or blank", test)
		}
	}
	if artifactual {
		cfg.ArtifactualFilter = true
		if cfg.Linker, err = qcmetrics.NewLinker(cacheSize); err != nil {
			return err
		}
	}

	if td != nil {
		if err := prepareTargeted(td); err != nil {
			return err
		}
	}

	if err := cfg.Apply(d); err != nil {
		return fmt.Errorf("failed to update masks: %w", err)
	}
	fmt.Printf("Samples retained: %d of %d\n", count(d.SampleMask), len(d.SampleMask))
	fmt.Printf("Features retained: %d of %d\n", count(d.FeatureMask), len(d.FeatureMask))

	return exportDataset(d, td, d.Name)
}

// prepareTargeted joins the calibration report and applies the limits of
// quantification requested by the flags
func prepareTargeted(td *targeted.Dataset) error {
	if calReportCSV != "" {
		f, err := os.Open(calReportCSV)
		if err != nil {
			return fmt.Errorf("failed to open calibration report: %w", err)
		}
		reader := calreport.NewReader(f)
		var entries []calreport.Entry
		for reader.Next() {
			entries = append(entries, *reader.Entry())
		}
		f.Close()
		if err := reader.Err(); err != nil {
			return fmt.Errorf("error reading calibration report: %w", err)
		}
		if noiseFilled && !reader.HasNoiseColumns() {
			return fmt.Errorf("calibration report lacks the Noise (area), a and b columns needed for --noise-filled")
		}
		if err := calreport.Join(td, entries); err != nil {
			return err
		}
		fmt.Printf("Loaded %d calibration report entries\n", len(entries))
	}

	if !applyLOQ && !noiseFilled {
		return nil
	}
	before := td.NumFeatures()
	var err error
	if noiseFilled {
		err = td.ApplyNoiseFilledLimitsOfQuantification(onlyLLOQ, targeted.ResponseReference{Sample: responseRef})
	} else {
		err = td.ApplyLimitsOfQuantification(onlyLLOQ)
	}
	if err != nil {
		return fmt.Errorf("failed to apply limits of quantification: %w", err)
	}
	if removed := before - td.NumFeatures(); removed > 0 {
		fmt.Fprintf(os.Stderr, "Warning: removed %d features without limits of quantification\n", removed)
	}
	return nil
}

func count(mask []bool) int {
	n := 0
	for _, m := range mask {
		if m {
			n++
		}
	}
	return n
}
