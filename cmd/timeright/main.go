// Command timeright serves the monitoring API and answers one-shot
// walk/run questions from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/randytsao24/timeright/internal/api/handlers"
)

var version = "dev"

const (
	FlagPort     = "port"
	FlagLogLevel = "log-level"
	FlagLogFile  = "log-file"
	FlagStops    = "stops"
	FlagNATSURL  = "nats-url"
)

func main() {
	handlers.Version = version

	rootCmd := &cobra.Command{
		Use:   "timeright",
		Short: "Tells you whether to walk, hurry or run for your bus",
		Long: `timeright watches the distance between you and a transit stop and the
next vehicle's ETA, and tells you whether to walk normally, walk fast or run.

Checks tighten as you get closer to the stop and arrival data is cached with
a freshness that depends on your distance.`,
		SilenceUsage: true,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("timeright %s\n", version)
		},
	}

	rootCmd.AddCommand(versionCmd, newServeCmd(), newDecideCmd(), newTransferCmd(), newProfileCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
