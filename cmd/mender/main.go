// Command mender is the autonomous CI/CD healing agent: point it at a
// repository and it clones, runs the tests, synthesizes fixes, and pushes
// them on a dedicated branch until the suite passes or the budgets run out.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dealcetexplains-png/mender/internal/logging"
)

var (
	flagVerbose bool
	flagQuiet   bool
	flagJSONLog bool
)

func main() {
	root := &cobra.Command{
		Use:           "mender",
		Short:         "autonomous CI/CD healing agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(flagVerbose, flagQuiet, flagJSONLog)
		},
	}
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "errors only")
	root.PersistentFlags().BoolVar(&flagJSONLog, "json-log", false, "NDJSON log output")

	root.AddCommand(newHealCmd())
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
