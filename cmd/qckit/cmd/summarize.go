package cmd

import (
	"fmt"
	"math"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/QCKit/pkg/qcmetrics"
	"github.com/ChrisMcGann/QCKit/pkg/writer/sqlite"
)

var (
	// Flags for summarize command
	summaryDB      string
	summaryLinkage bool
	quiet          bool
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize per-feature QC metrics",
	Long: `Print the QC metrics of every feature: RSD in study-pool references and
study samples, correlation to dilution, variance ratio, blank level and,
with --artifactual, whether the feature represents its artefactual cluster.
With --db the summary, sample table and processing log are also written to
a SQLite database.`,
	RunE: runSummarize,
}

func init() {
	summarizeCmd.Flags().StringVar(&summaryDB, "db", "", "Write the summary to this SQLite database")
	summarizeCmd.Flags().BoolVar(&summaryLinkage, "artifactual", false, "Run the artefactual linkage (needs m/z, Retention Time and Peak Width)")
	summarizeCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print the per-feature table")
}

func runSummarize(cmd *cobra.Command, args []string) error {
	d, _, err := loadDataset(inputDir, datasetName)
	if err != nil {
		return err
	}

	var linker *qcmetrics.Linker
	if summaryLinkage {
		if linker, err = qcmetrics.NewLinker(1); err != nil {
			return err
		}
	}
	s, err := qcmetrics.Summarise(d, d.Attributes.SOP, linker)
	if err != nil {
		return fmt.Errorf("failed to compute QC summary: %w", err)
	}

	if !quiet {
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "Feature\tRSD SP\tRSD SS\tCorr\tVar ratio\tBlank\tArtefactual")
		for j, name := range s.FeatureNames {
			artifactual := "-"
			if s.ArtifactualPass != nil {
				artifactual = fmt.Sprint(s.ArtifactualPass[j])
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%v\t%s\n", name,
				metric(s.RSDStudyPool[j]), metric(s.RSDStudySample[j]), metric(s.CorrelationToDilution[j]),
				metric(s.VarianceRatio[j]), s.BlankPass[j], artifactual)
		}
		tw.Flush()
	}
	for _, w := range s.Warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}

	if summaryDB == "" {
		return nil
	}

	// Create SQLite writer
	writer, err := sqlite.NewWriter(summaryDB)
	if err != nil {
		return fmt.Errorf("failed to create output database: %w", err)
	}
	if err := writer.WriteSummary(d, s); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write summary: %w", err)
	}
	if err := writer.Finalize(); err != nil {
		return fmt.Errorf("failed to finalize database: %w", err)
	}
	fmt.Printf("Output: %s\n", summaryDB)
	return nil
}

func metric(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.3g", v)
}
