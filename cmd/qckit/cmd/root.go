// Package cmd provides CLI command implementations
package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/QCKit/pkg/config"
)

var (
	// Global flags
	logLevel string
	logFile  string
	sopName  string

	// Dataset input flags
	inputDir      string
	datasetName   string
	platform      string
	variableType  string
	methodName    string
	isTargeted    bool
	sampleInfoCSV string
	sampleInfoKey string

	// Output flags
	outputDir    string
	outputName   string
	exportFormat string
	applyMasks   bool
)

var rootCmd = &cobra.Command{
	Use:   "qckit",
	Short: "QCKit - Metabolomics dataset quality control tool",
	Long: `QCKit runs quality control on metabolomics profiling and targeted datasets
held in the sample metadata / feature metadata / intensity CSV layout.

Supported operations:
- Run-order drift and batch correction (windowed LOWESS)
- Feature filtering on RSD, dilution correlation, variance ratio, blanks
  and artefactual linkage
- Limits of quantification and multi-batch merging for targeted assays
- Dataset validation and QC summaries (stdout or SQLite)`,
	Version: "1.0.0",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogging(logLevel, logFile)
	},
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(correctCmd)
	rootCmd.AddCommand(filterCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(summarizeCmd)

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file")
	rootCmd.PersistentFlags().StringVar(&sopName, "sop", "", "SOP bundle name ("+strings.Join(config.Bundles(), ", ")+") or YAML path")

	for _, c := range []*cobra.Command{correctCmd, filterCmd, validateCmd, summarizeCmd} {
		addInputFlags(c)
	}
	for _, c := range []*cobra.Command{correctCmd, filterCmd, mergeCmd} {
		addOutputFlags(c)
	}
}

// addInputFlags registers the flags that locate and describe one dataset
func addInputFlags(c *cobra.Command) {
	c.Flags().StringVarP(&inputDir, "in", "i", "", "Input directory holding the dataset CSVs (required)")
	c.Flags().StringVarP(&datasetName, "name", "n", "", "Dataset name, the prefix of its CSV files (required)")
	addDescriptionFlags(c)
	c.MarkFlagRequired("in")
	c.MarkFlagRequired("name")
}

// addDescriptionFlags registers what the CSV files do not record
func addDescriptionFlags(c *cobra.Command) {
	c.Flags().StringVar(&platform, "platform", "MS", "Analytical platform: MS or NMR")
	c.Flags().StringVar(&variableType, "variable-type", "Discrete", "Variable type: Discrete, Spectral or Continuum")
	c.Flags().StringVar(&methodName, "method", "", "Method name (default: dataset name)")
	c.Flags().BoolVar(&isTargeted, "targeted", false, "Read expected concentrations and calibration of a targeted dataset")
	c.Flags().StringVar(&sampleInfoCSV, "sample-info", "", "CSV of extra sample metadata to join")
	c.Flags().StringVar(&sampleInfoKey, "sample-info-key", "Sample File Name", "Column joining --sample-info: 'Sample File Name' or 'Sample Base Name'")
}

func addOutputFlags(c *cobra.Command) {
	c.Flags().StringVarP(&outputDir, "out", "o", "", "Output directory (required)")
	c.Flags().StringVar(&outputName, "out-name", "", "Output dataset name (default: input name)")
	c.Flags().StringVar(&exportFormat, "format", "CSV", "Export format: CSV, UnifiedCSV or ISATAB")
	c.Flags().BoolVar(&applyMasks, "apply-masks", false, "Remove masked samples and features before export")
	c.MarkFlagRequired("out")
}
