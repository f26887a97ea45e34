package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mkessel/outrider/internal/worker"
)

var (
	workTaskID   string
	workWorkerID string
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Execute one claimed task and exit",
	Long: `Run a single worker process for one task. The orchestrator spawns this
command in a detached session for every task it claims; it can also be run
by hand to drain a task.`,
	RunE: runWork,
}

func init() {
	workCmd.Flags().StringVar(&workTaskID, "task-id", "", "ID of the task to execute")
	workCmd.Flags().StringVar(&workWorkerID, "worker-id", "", "worker identity holding the claim")
	_ = workCmd.MarkFlagRequired("task-id")
	rootCmd.AddCommand(workCmd)
}

func runWork(cmd *cobra.Command, args []string) error {
	taskID, err := uuid.Parse(workTaskID)
	if err != nil {
		return fmt.Errorf("invalid task ID %q: %w", workTaskID, err)
	}

	// A hand-run worker gets a fresh identity and claims the task itself.
	workerID := workWorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	executor, err := worker.NewCommandExecutor(app.cfg.Worker.Command, app.cfg.Worker.Args...)
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}

	w, err := worker.New(
		app.taskStore, executor, workerID, app.cfg.Orchestrator.RetryBackoff, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return w.Run(ctx, taskID)
}
