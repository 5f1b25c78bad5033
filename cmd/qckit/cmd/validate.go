package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/QCKit/pkg/core"
	"github.com/ChrisMcGann/QCKit/pkg/targeted"
)

var (
	// Flags for validate command
	requireLevel string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate dataset structure and metadata",
	Long: `Check a dataset at four levels, each implying the previous: Dataset (shapes
and masks), BasicDataset (columns and enumerations needed by QC), QC
(reference samples present) and sampleMetadata (complete sample metadata).
Exits with an error when the dataset falls below --require.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&requireLevel, "require", "BasicDataset", "Level the dataset must reach: Dataset, BasicDataset, QC or sampleMetadata")
}

func parseLevel(s string) (core.Level, error) {
	for l := core.LevelDataset; l <= core.LevelSampleMetadata; l++ {
		if strings.EqualFold(l.String(), s) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("invalid level '%s', must be Dataset, BasicDataset, QC or sampleMetadata", s)
}

func runValidate(cmd *cobra.Command, args []string) error {
	level, err := parseLevel(requireLevel)
	if err != nil {
		return err
	}
	d, td, err := loadDataset(inputDir, datasetName)
	if err != nil {
		return err
	}

	opts := core.ValidateOptions{
		Require:    level,
		RaiseError: true,
		Verbose:    os.Stdout,
	}
	if td != nil {
		_, err = targeted.Validate(td, opts)
	} else {
		_, err = core.Validate(d, opts)
	}
	if err != nil {
		return err
	}
	fmt.Printf("\n%s passes %s validation\n", d.Name, level)
	return nil
}
