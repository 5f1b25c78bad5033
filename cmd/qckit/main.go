// QCKit - Metabolomics dataset quality control tool
package main

import (
	"fmt"
	"os"

	"github.com/ChrisMcGann/QCKit/cmd/qckit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
