package cli

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mkessel/outrider/internal/domain"
	"github.com/mkessel/outrider/internal/notify"
	"github.com/mkessel/outrider/internal/orchestrator"
	"github.com/mkessel/outrider/internal/resolver"
)

var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate",
	Short: "Run the polling orchestrator",
	Long: `Run the supervisor loop: reclaim orphaned work, pump the message queue
through the assistant command, claim eligible tasks, spawn detached worker
processes, resolve dependency chains, and sweep notifications.`,
	RunE: runOrchestrate,
}

func init() {
	rootCmd.AddCommand(orchestrateCmd)
}

func runOrchestrate(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	launcher, err := orchestrator.NewExecLauncher("", app.cfg.Worker.WorkDir)
	if err != nil {
		return fmt.Errorf("failed to create worker launcher: %w", err)
	}

	notifier, err := app.notifier()
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(
		app.taskStore, notifier, app.cfg.Notify.SweepBatch, app.logger)

	res := resolver.New(app.taskStore, app.cfg.Orchestrator.CascadeFailures, app.logger)

	handler := &commandMessageHandler{
		command: app.cfg.Worker.Command,
		args:    app.cfg.Worker.Args,
		logger:  app.logger,
	}

	orch, err := orchestrator.New(
		orchestrator.Config{
			PollInterval:    app.cfg.Orchestrator.PollInterval,
			MaxConcurrent:   app.cfg.Orchestrator.MaxConcurrent,
			ClaimTimeout:    app.cfg.Orchestrator.ClaimTimeout,
			MessageTimeout:  app.cfg.Orchestrator.MessageTimeout,
			MessageBatch:    app.cfg.Orchestrator.MessageBatch,
			RetryBackoff:    app.cfg.Orchestrator.RetryBackoff,
			TaskTimeout:     app.cfg.Orchestrator.TaskTimeout,
			ArchiveInterval: app.cfg.Orchestrator.ArchiveInterval,
			RetentionPeriod: app.cfg.Orchestrator.RetentionPeriod,
		},
		app.taskStore,
		app.messageStore,
		launcher,
		res,
		dispatcher,
		handler,
		app.logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app.logger.Info("starting orchestrator",
		"poll_interval", app.cfg.Orchestrator.PollInterval,
		"max_concurrent", app.cfg.Orchestrator.MaxConcurrent)

	if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("orchestrator failed: %w", err)
	}

	app.logger.Info("orchestrator stopped")
	return nil
}

// commandMessageHandler answers queued messages by invoking the configured
// assistant command: message content on argv, attachments on stdin, stdout as
// the response.
type commandMessageHandler struct {
	command string
	args    []string
	logger  *slog.Logger
}

var _ orchestrator.MessageHandler = (*commandMessageHandler)(nil)

func (h *commandMessageHandler) Handle(
	ctx context.Context,
	msg *domain.QueuedMessage,
) (*orchestrator.MessageResult, error) {
	argv := append(append([]string{}, h.args...), msg.Content)
	cmd := exec.CommandContext(ctx, h.command, argv...)
	if len(msg.Attachments) > 0 {
		cmd.Stdin = bytes.NewReader(msg.Attachments)
	}

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("assistant command failed: %w", err)
	}

	return &orchestrator.MessageResult{Response: strings.TrimSpace(string(out))}, nil
}
