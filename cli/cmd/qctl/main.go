// Command qctl benchmarks circuits across transpiler optimization levels,
// locally or against a running analysis server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "qctl",
		Short:         "Quantum transpilation analysis and fidelity benchmarking",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "qtranspile.yaml", "Path to the YAML configuration")

	root.AddCommand(
		newBackendsCmd(&cfgPath),
		newAnalyzeCmd(&cfgPath),
		newServeCmd(&cfgPath),
		newRunsCmd(&cfgPath),
		newSubmitCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "qctl:", err)
		os.Exit(1)
	}
}
