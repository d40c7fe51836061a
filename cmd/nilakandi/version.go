package main

import (
	"fmt"

	"github.com/koetjeengdjalanan/nilakandi/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Info()
			fmt.Fprintf(cmd.OutOrStdout(), "nilakandi %s (commit %s, built %s, %s)\n",
				info["version"], info["git_commit"], info["build_date"], info["go_version"])
		},
	}
}
