package cmd

import (
	"fmt"
	"github.com/ValentinKolb/memjob/cmd/perf"
	"github.com/ValentinKolb/memjob/cmd/serve"
	"github.com/ValentinKolb/memjob/cmd/util"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "memjob",
		Short: "in-memory job storage",
		Long: fmt.Sprintf(`memjob (v%s)

An in-memory storage for background job processing written in Go.
It keeps jobs, queues, counters, sets, lists and hashes in process
memory and hands out queued jobs to concurrent workers.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of memjob",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("memjob v%s\n", Version)
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
