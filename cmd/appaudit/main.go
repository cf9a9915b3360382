// Package main provides the entry point for the appaudit engine CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GrabowMar/ThesisAppRework-sub000/cmd/appaudit/commands"
	"github.com/GrabowMar/ThesisAppRework-sub000/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "appaudit",
		Short: "Analysis orchestration engine for generated applications",
		Long: `appaudit dispatches static, dynamic, performance, and AI analyses
against generated web applications via long-running analyzer workers,
aggregates the findings, and persists normalized result documents.

Commands:
  serve     Run the dispatcher engine
  submit    Submit an analysis task
  status    Show task status
  cancel    Request task cancellation`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewSubmitCommand())
	rootCmd.AddCommand(commands.NewStatusCommand())
	rootCmd.AddCommand(commands.NewCancelCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "appaudit %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
