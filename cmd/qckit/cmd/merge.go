package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/QCKit/pkg/targeted"
)

var (
	// Flags for merge command
	keepBatchLOQ bool
)

var mergeCmd = &cobra.Command{
	Use:   "merge [dir/name ...]",
	Short: "Merge targeted datasets acquired in separate batches",
	Long: `Merge two or more targeted datasets of the same method, in the order given.
Each argument is a dataset directory joined with the dataset name. Batches
are renumbered, samples re-ordered by acquisition time and features joined
on name, calibration method, quantification type and unit. The per-batch
limits of quantification are then merged and applied.

Examples:
  qckit merge batch1/aa batch2/aa batch3/aa --out merged --out-name aa`,
	Args: cobra.MinimumNArgs(2),
	RunE: runMerge,
}

func init() {
	addDescriptionFlags(mergeCmd)
	mergeCmd.Flags().BoolVar(&keepBatchLOQ, "keep-batch-loq", false, "Keep the per-batch LLOQ and ULOQ columns")
}

func runMerge(cmd *cobra.Command, args []string) error {
	isTargeted = true

	var datasets []*targeted.Dataset
	for _, arg := range args {
		_, td, err := loadDataset(filepath.Dir(arg), filepath.Base(arg))
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", arg, err)
		}
		datasets = append(datasets, td)
	}

	merged, err := targeted.Sum(datasets...)
	if err != nil {
		return fmt.Errorf("merge failed: %w", err)
	}
	if err := merged.MergeLimitsOfQuantification(keepBatchLOQ); err != nil {
		return fmt.Errorf("failed to merge limits of quantification: %w", err)
	}

	fmt.Printf("\nMerge complete!\n")
	fmt.Printf("Batches: %d\n", len(merged.Calibration))
	fmt.Printf("Samples: %d\n", merged.NumSamples())
	fmt.Printf("Features: %d\n", merged.NumFeatures())

	return exportDataset(merged.Dataset, merged, filepath.Base(args[0]))
}
