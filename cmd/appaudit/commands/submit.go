package commands

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/GrabowMar/ThesisAppRework-sub000/internal/config"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/task"
)

// NewSubmitCommand creates the submit command.
func NewSubmitCommand() *cobra.Command {
	var (
		configPath    string
		model         string
		appNumber     int
		analysisType  string
		tools         []string
		pipelineID    string
		retentionDays int
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an analysis task",
		Long: `Submits a new analysis task to the store. The serve process picks it
up on its next poll. Model identifiers are canonicalized, so
"anthropic/claude-3.5-sonnet" and "anthropic_claude-3-5-sonnet" address
the same application.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			store, err := task.Open(cfg.StorePath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			created, err := store.Create(task.Spec{
				Model:          model,
				AppNumber:      appNumber,
				AnalysisType:   task.AnalysisType(analysisType),
				RequestedTools: tools,
				Source:         task.SourceCLI,
				Options: task.Options{
					PipelineID:    pipelineID,
					RetentionDays: retentionDays,
				},
			})
			if err != nil {
				if errors.Is(err, task.ErrDuplicatePipelineTask) {
					return fmt.Errorf("%w (use status to inspect the running task)", err)
				}

				return err
			}

			fmt.Printf("%s %s\n", color.GreenString("submitted"), created.TaskID)
			fmt.Printf("  target: %s/app%d  type: %s\n", created.TargetModel, created.TargetAppNumber, created.AnalysisType)

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model identifier (required)")
	cmd.Flags().IntVarP(&appNumber, "app", "n", 0, "application number (required)")
	cmd.Flags().StringVarP(&analysisType, "type", "t", "static", "analysis type: static|dynamic|performance|ai|unified")
	cmd.Flags().StringSliceVarP(&tools, "tools", "T", nil, "explicit tool selection (default: all for the type)")
	cmd.Flags().StringVar(&pipelineID, "pipeline", "", "pipeline id for duplicate prevention")
	cmd.Flags().IntVar(&retentionDays, "retention", 0, "result retention in days (recorded in the manifest)")

	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("app")

	return cmd
}
