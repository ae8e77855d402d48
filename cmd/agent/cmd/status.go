package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"possync/internal/domain/entity"
	"possync/internal/domain/mirror"
	"possync/internal/domain/queue"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Показать состояние агента",
	Long:  `Выводит состояние зеркала, очереди и статистику синхронизации.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		defer app.Close()
		ctx := cmd.Context()

		if jsonOutput {
			return printStatusJSON(ctx)
		}

		fmt.Println("=== Состояние POSSync ===")
		fmt.Println()

		if err := app.Upstream.HealthCheck(ctx); err != nil {
			color.Red("Сервер: недоступен (%v)", err)
		} else {
			color.Green("Сервер: доступен (%s)", app.Monitor.EffectiveType())
		}
		fmt.Println()

		fmt.Println("Локальное зеркало:")
		for _, t := range entity.PullOrder() {
			n, err := app.Mirror.Count(ctx, t)
			if err != nil {
				continue
			}
			fmt.Printf("  %-14s %d записей\n", t, n)
		}
		fmt.Println()

		counts, err := app.Queue.Counts(ctx)
		if err == nil {
			fmt.Println("Очередь запросов:")
			fmt.Printf("  ожидают:    %d\n", counts[queue.StatusPending])
			fmt.Printf("  провалены:  %d\n", counts[queue.StatusFailed])
			fmt.Println()
		}

		meta := app.Mirror.Metadata(ctx)
		fmt.Println("Статистика синхронизации:")
		fmt.Printf("  всего запусков:   %d\n", meta.Stats.TotalSyncs)
		if !meta.Stats.LastSuccessful.IsZero() {
			fmt.Printf("  последний успех:  %s\n", meta.Stats.LastSuccessful.Format(time.RFC3339))
		}
		if !meta.Stats.LastFailed.IsZero() {
			fmt.Printf("  последний провал: %s\n", meta.Stats.LastFailed.Format(time.RFC3339))
		}
		fmt.Printf("  отправлено:       %d\n", meta.Stats.TotalPushed)
		fmt.Printf("  загружено:        %d\n", meta.Stats.TotalPulled)
		fmt.Printf("  конфликтов:       %d (разрешено %d)\n",
			meta.Stats.TotalConflicts, meta.Stats.TotalResolved)
		if meta.Stats.AvgSyncDuration > 0 {
			fmt.Printf("  средняя длительность: %.2fs\n", meta.Stats.AvgSyncDuration)
		}

		return nil
	},
}

func printStatusJSON(ctx context.Context) error {
	status := struct {
		ServerReachable bool                `json:"server_reachable"`
		Network         string              `json:"network,omitempty"`
		Mirror          map[entity.Type]int `json:"mirror"`
		Queue           map[string]int      `json:"queue"`
		Stats           mirror.Stats        `json:"stats"`
	}{
		Mirror: make(map[entity.Type]int),
		Queue:  make(map[string]int),
	}

	if err := app.Upstream.HealthCheck(ctx); err == nil {
		status.ServerReachable = true
		status.Network = app.Monitor.EffectiveType()
	}
	for _, t := range entity.PullOrder() {
		n, err := app.Mirror.Count(ctx, t)
		if err != nil {
			continue
		}
		status.Mirror[t] = n
	}
	if counts, err := app.Queue.Counts(ctx); err == nil {
		for st, n := range counts {
			status.Queue[string(st)] = n
		}
	}
	status.Stats = app.Mirror.Metadata(ctx).Stats

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(status)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
