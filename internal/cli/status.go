package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mkessel/outrider/internal/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth and recent outcomes",
	Long:  `Print per-status counts for both queues and the most recent terminal tasks.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	service, err := app.queueService()
	if err != nil {
		return fmt.Errorf("failed to create queue service: %w", err)
	}

	status, err := service.GetQueueStatus(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load queue status: %w", err)
	}

	fmt.Println("Tasks:")
	printCounts(taskStatusCounts(status.Tasks))

	fmt.Println("\nMessages:")
	printCounts(messageStatusCounts(status.Messages))

	if len(status.RecentTerminal) > 0 {
		fmt.Println("\nRecent outcomes:")
		for _, task := range status.RecentTerminal {
			line := fmt.Sprintf("  [%s] %s", task.Status, task.Description)
			if task.Status == domain.TaskStatusFailed && task.ErrorMessage != "" {
				line += ": " + task.ErrorMessage
			}
			fmt.Println(line)
		}
	}

	return nil
}

func taskStatusCounts(counts map[domain.TaskStatus]int) map[string]int {
	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	return out
}

func messageStatusCounts(counts map[domain.MessageStatus]int) map[string]int {
	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	return out
}

func printCounts(counts map[string]int) {
	if len(counts) == 0 {
		fmt.Println("  (empty)")
		return
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-10s %d\n", name, counts[name])
	}
}
