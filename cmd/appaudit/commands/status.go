package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/GrabowMar/ThesisAppRework-sub000/internal/analyzer"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/config"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/task"
)

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	var (
		configPath   string
		showServices bool
	)

	cmd := &cobra.Command{
		Use:   "status [task_id]",
		Short: "Show task status",
		Long: `Without arguments, lists all tasks newest first. With a task id,
shows the full record including the result path. With --services, probes
the configured analyzer services instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if showServices {
				return printServiceHealth(cmd.Context(), cfg)
			}

			store, err := task.Open(cfg.StorePath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if len(args) == 1 {
				return printTask(store, task.EnsureIDPrefix(args[0]))
			}

			return printTaskList(store)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")
	cmd.Flags().BoolVar(&showServices, "services", false, "probe analyzer service health")

	return cmd
}

// printServiceHealth pings every configured analyzer and renders one row
// per service.
func printServiceHealth(ctx context.Context, cfg *config.Config) error {
	clients := buildClients(cfg, slog.Default())
	if len(clients) == 0 {
		fmt.Println("no analyzer services configured")

		return nil
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Service", "Endpoint", "Health", "Breaker"})

	for _, service := range analyzer.Services() {
		client, ok := clients[service]
		if !ok {
			continue
		}

		report := client.Health(ctx)

		tw.AppendRow(table.Row{
			string(service),
			cfg.Service(service).Endpoint,
			colorHealth(report.Status),
			string(client.Breaker().State()),
		})
	}

	tw.Render()

	return nil
}

func colorHealth(state analyzer.HealthState) string {
	switch state {
	case analyzer.HealthOK:
		return color.GreenString(string(state))
	case analyzer.HealthDegraded:
		return color.YellowString(string(state))
	default:
		return color.RedString(string(state))
	}
}

func printTask(store *task.Store, id string) error {
	t, err := store.Get(id)
	if err != nil {
		return err
	}

	fmt.Printf("task:     %s\n", t.TaskID)
	fmt.Printf("target:   %s/app%d\n", t.TargetModel, t.TargetAppNumber)
	fmt.Printf("type:     %s\n", t.AnalysisType)
	fmt.Printf("status:   %s  (%d%%)\n", colorStatus(t.Status), t.Progress)
	fmt.Printf("source:   %s\n", t.Source)
	fmt.Printf("created:  %s\n", humanize.Time(t.CreatedAt))

	if t.StartedAt != nil {
		fmt.Printf("started:  %s\n", humanize.Time(*t.StartedAt))
	}

	if t.CompletedAt != nil {
		fmt.Printf("finished: %s\n", humanize.Time(*t.CompletedAt))
	}

	if t.ErrorMessage != "" {
		fmt.Printf("error:    %s\n", color.RedString(t.ErrorMessage))
	}

	if t.ResultPath != "" {
		fmt.Printf("result:   %s\n", t.ResultPath)
	}

	return nil
}

func printTaskList(store *task.Store) error {
	tasks, err := store.List()
	if err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("no tasks")

		return nil
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Task", "Target", "Type", "Status", "Progress", "Created"})

	for _, t := range tasks {
		tw.AppendRow(table.Row{
			t.TaskID,
			fmt.Sprintf("%s/app%d", t.TargetModel, t.TargetAppNumber),
			t.AnalysisType,
			colorStatus(t.Status),
			fmt.Sprintf("%d%%", t.Progress),
			humanize.Time(t.CreatedAt),
		})
	}

	tw.Render()

	return nil
}

func colorStatus(status task.Status) string {
	switch status {
	case task.StatusCompleted:
		return color.GreenString(string(status))
	case task.StatusPartialSuccess:
		return color.YellowString(string(status))
	case task.StatusFailed:
		return color.RedString(string(status))
	case task.StatusCancelled:
		return color.HiBlackString(string(status))
	case task.StatusRunning:
		return color.CyanString(string(status))
	default:
		return string(status)
	}
}
