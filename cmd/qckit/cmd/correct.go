package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/QCKit/pkg/batchcorrect"
	"github.com/ChrisMcGann/QCKit/pkg/core"
)

var (
	// Flags for correct command
	window               int
	serial               bool
	workers              int
	chunkSize            int
	correctionSampleType string
	inferBatches         bool
	amendBatches         []float64
	recomputeRunOrder    bool
)

var correctCmd = &cobra.Command{
	Use:   "correct",
	Short: "Correct run-order drift and batch effects",
	Long: `Fit a windowed LOWESS baseline through the precision reference samples of
each correction batch and divide it out, then align the batches.

Examples:
  # Correct with the SOP's defaults
  qckit correct --in data --name study --out corrected

  # Anchor on external references with a wider window, single-threaded
  qckit correct --in data --name study --out corrected --correction-sample-type ExternalReference --window 15 --serial`,
	RunE: runCorrect,
}

func init() {
	correctCmd.Flags().IntVar(&window, "window", 0, "LOWESS window in anchor samples (0 = SOP value)")
	correctCmd.Flags().BoolVar(&serial, "serial", false, "Correct features one at a time")
	correctCmd.Flags().IntVar(&workers, "workers", 0, "Number of worker goroutines (0 = GOMAXPROCS)")
	correctCmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Features per worker task (0 = automatic)")
	correctCmd.Flags().StringVar(&correctionSampleType, "correction-sample-type", "", "Sample type anchoring the fit (default: SOP value)")
	correctCmd.Flags().BoolVar(&inferBatches, "infer-batches", false, "Assign batches from gaps in Acquired Time longer than the SOP's batchGapHours")
	correctCmd.Flags().Float64SliceVar(&amendBatches, "amend-batch", nil, "Start a new correction batch at these run orders")
	correctCmd.Flags().BoolVar(&recomputeRunOrder, "recompute-run-order", false, "Rank Run Order from Acquired Time before correcting")
}

// prepareBatches applies the run-order and batch flags to d. Steps lacking
// Acquired Time are skipped with a warning.
func prepareBatches(d *core.Dataset) error {
	skip := func(err error) error {
		if errors.Is(err, core.ErrMissingOptionalMetadata) {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			return nil
		}
		return err
	}
	if recomputeRunOrder {
		if err := skip(d.RecomputeRunOrder()); err != nil {
			return err
		}
	}
	if inferBatches {
		gap := time.Duration(d.Attributes.SOP.BatchGapHours * float64(time.Hour))
		if err := skip(d.InferBatches(gap)); err != nil {
			return err
		}
	}
	for _, ro := range amendBatches {
		if err := skip(d.AmendBatches(ro)); err != nil {
			return err
		}
	}
	return nil
}

func runCorrect(cmd *cobra.Command, args []string) error {
	d, td, err := loadDataset(inputDir, datasetName)
	if err != nil {
		return err
	}

	if err := prepareBatches(d); err != nil {
		return fmt.Errorf("failed to prepare batches: %w", err)
	}

	opts, err := batchcorrect.OptionsFromSOP(d.Attributes.SOP)
	if err != nil {
		return err
	}
	if window > 0 {
		opts.Params.Window = window
	}
	if correctionSampleType != "" {
		if opts.CorrectionSampleType, err = core.ParseSampleType(correctionSampleType); err != nil {
			return err
		}
	}
	opts.Parallel = !serial
	opts.Workers = workers
	opts.Chunk = chunkSize

	fmt.Printf("Correcting %s...\n", d.Name)
	fmt.Printf("Method: %s, window %d, align %s\n", opts.Params.Method, opts.Params.Window, opts.Params.Align)
	fmt.Printf("Anchors: %s\n", opts.CorrectionSampleType)

	corrected, report, err := batchcorrect.Correct(cmd.Context(), d, opts)
	if err != nil {
		return fmt.Errorf("batch correction failed: %w", err)
	}

	if k := report.NumFailed(); k > 0 {
		names, _ := d.FeatureNames()
		for j, failed := range report.Failed {
			if failed {
				fmt.Fprintf(os.Stderr, "Warning: feature %s not corrected: %v\n", names[j], report.Messages[j])
			}
		}
	}
	fmt.Printf("Corrected %d features over %d batches (%d failed)\n", d.NumFeatures(), len(report.Batches), report.NumFailed())

	if td != nil {
		td.Dataset = corrected
	}
	return exportDataset(corrected, td, d.Name)
}
