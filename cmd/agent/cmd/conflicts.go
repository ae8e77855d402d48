package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"possync/internal/domain/entity"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Управление конфликтами синхронизации",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Показать неразрешенные конфликты",
	RunE: func(cmd *cobra.Command, args []string) error {
		defer app.Close()

		conflicts, err := app.Syncer.UnresolvedConflicts(cmd.Context())
		if err != nil {
			return fmt.Errorf("конфликты не прочитаны: %w", err)
		}
		if jsonOutput {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(conflicts)
		}
		if len(conflicts) == 0 {
			color.Green("Неразрешенных конфликтов нет.")
			return nil
		}

		fmt.Printf("Неразрешенных конфликтов: %d\n\n", len(conflicts))
		for _, c := range conflicts {
			color.Yellow("%s  [%s/%s]", c.ID, c.EntityType, c.EntityID)
			fmt.Printf("  локальное изменение:  %s\n", c.LocalModifiedAt.Format(time.RFC3339))
			fmt.Printf("  серверное изменение:  %s\n", c.ServerModifiedAt.Format(time.RFC3339))

			localFields, lerr := entity.Fields(c.Local)
			serverFields, serr := entity.Fields(c.Server)
			if lerr == nil && serr == nil {
				if diff := entity.DiffFields(localFields, serverFields); len(diff) > 0 {
					fmt.Printf("  отличающиеся поля:    %v\n", diff)
				}
			}
			fmt.Println()
		}
		fmt.Println("Разрешение: possync conflicts resolve <id> --choice client|server")
		return nil
	},
}

var resolveChoice string

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Разрешить конфликт",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defer app.Close()

		if resolveChoice != "client" && resolveChoice != "server" {
			return fmt.Errorf("--choice должен быть client или server")
		}

		if err := app.Syncer.ResolveManual(cmd.Context(), args[0], resolveChoice); err != nil {
			return fmt.Errorf("конфликт не разрешен: %w", err)
		}
		color.Green("✓ Конфликт %s разрешен (%s)", args[0], resolveChoice)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(conflictsCmd)
	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)

	conflictsResolveCmd.Flags().StringVar(&resolveChoice, "choice", "", "версия-победитель: client или server")
}
