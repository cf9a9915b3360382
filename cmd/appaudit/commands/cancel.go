package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/GrabowMar/ThesisAppRework-sub000/internal/config"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/task"
)

// NewCancelCommand creates the cancel command.
func NewCancelCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cancel <task_id>",
		Short: "Request task cancellation",
		Long: `Pending tasks are cancelled immediately. Running tasks are flagged;
the dispatcher observes the flag at the next subtask boundary, drains
in-flight work, and marks the task cancelled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			store, err := task.Open(cfg.StorePath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			id := task.EnsureIDPrefix(args[0])

			cancelErr := store.Cancel(id)
			if cancelErr != nil {
				return cancelErr
			}

			fmt.Printf("%s %s\n", color.YellowString("cancellation requested"), id)

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")

	return cmd
}
