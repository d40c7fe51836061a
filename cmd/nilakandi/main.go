package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "nilakandi",
		Short:         "Nilakandi - Azure cost ingestion",
		Long:          `Nilakandi pulls Azure cost data (cost query answers, scheduled cost exports and marketplace charges) into a relational store and renders pivot reports from it.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Override the log format (json or console)")

	rootCmd.AddCommand(
		newWorkerCommand(opts),
		newSyncCommand(opts),
		newPopulateCommand(opts),
		newGrabCommand(opts),
		newExportCommand(opts),
		newImportCommand(opts),
		newReportCommand(opts),
		newVersionCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
