package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Выполнить синхронизацию",
	Long: `Запускает полный цикл синхронизации: воспроизведение офлайн-очереди,
отправка локальных изменений и загрузка данных с сервера.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		defer app.Close()

		if !jsonOutput {
			fmt.Println("=== Синхронизация данных ===")
			fmt.Println("Проверка соединения с сервером...")
		}
		if err := app.Upstream.HealthCheck(cmd.Context()); err != nil {
			return fmt.Errorf("сервер недоступен: %v", err)
		}

		if !jsonOutput {
			fmt.Println("Начало синхронизации...")
		}
		result, err := app.Syncer.SyncAll(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка синхронизации: %w", err)
		}

		if jsonOutput {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(result)
		}

		fmt.Println()
		if result.Success {
			color.Green("✅ Синхронизация завершена!")
		} else {
			color.Yellow("⚠️  Синхронизация завершена с ошибками (%d)", len(result.Errors))
		}
		fmt.Printf("Время выполнения: %v\n", result.Duration.Round(time.Millisecond))
		fmt.Printf("Отправлено на сервер: %d записей\n", result.Pushed)
		for t, n := range result.Synced {
			fmt.Printf("Загружено %s: %d записей\n", t, n)
		}
		if result.Drain != nil && result.Drain.Processed > 0 {
			fmt.Printf("Очередь: воспроизведено %d, возвращено %d, провалено %d\n",
				result.Drain.Replayed, result.Drain.Requeued, result.Drain.Failed)
		}
		if len(result.Conflicts) > 0 {
			fmt.Printf("Конфликтов: %d (разрешено автоматически: %d, ждут решения: %d)\n",
				len(result.Conflicts), result.Resolved, result.Manual)
		}
		for _, e := range result.Errors {
			color.Red("  ошибка [%s %s]: %s", e.Entity, e.Operation, e.Error)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
