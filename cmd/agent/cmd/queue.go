package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"possync/internal/domain/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Управление очередью отложенных запросов",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "Показать очередь",
	RunE: func(cmd *cobra.Command, args []string) error {
		defer app.Close()

		items, err := app.Queue.Items(cmd.Context())
		if err != nil {
			return fmt.Errorf("очередь не прочитана: %w", err)
		}
		if jsonOutput {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(items)
		}
		if len(items) == 0 {
			fmt.Println("Очередь пуста.")
			return nil
		}

		fmt.Printf("Элементов в очереди: %d\n\n", len(items))
		for _, item := range items {
			line := fmt.Sprintf("%-22s %-6s %-8s %-10s попыток=%d  %s %s",
				item.ID, item.Method, item.Priority, item.Status, item.Retries,
				item.Timestamp.Format(time.RFC3339), item.URL)
			switch item.Status {
			case queue.StatusFailed:
				color.Red(line)
			case queue.StatusPending:
				color.Yellow(line)
			default:
				fmt.Println(line)
			}
		}
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Повторить неудавшийся запрос",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defer app.Close()

		if err := app.Queue.Retry(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("элемент не возвращен в очередь: %w", err)
		}
		color.Green("✓ Элемент %s возвращен в очередь", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRetryCmd)
}
