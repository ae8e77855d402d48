// cmd/agent/cmd/root.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/exp/slog"

	"possync/internal/app/agent"
	"possync/internal/app/agent/config"
	"possync/internal/utils/logger"
)

var (
	cfgFile     string
	cfg         *config.Config
	log         *slog.Logger
	app         *agent.App
	upstreamURL string
	listenAddr  string
	jsonOutput  bool
)

var rootCmd = &cobra.Command{
	Use:   "possync",
	Short: "POSSync — офлайн-агент синхронизации кассы",
	Long: `POSSync — локальный агент точки продаж. Он перехватывает запросы
кассового интерфейса, кэширует страницы и данные, сохраняет офлайн-записи
в durable-очередь и синхронизирует локальное зеркало с центральным сервером.

Касса продолжает работать без сети; при восстановлении соединения агент
воспроизводит накопленные операции в исходном порядке.`,
	PersistentPreRunE: setupApp,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func setupApp(_ *cobra.Command, _ []string) error {
	// Загружаем конфигурацию
	cfg = loadConfig()

	// Переопределяем настройки из флагов командной строки
	if upstreamURL != "" {
		cfg.UpstreamURL = upstreamURL
	}
	if listenAddr != "" {
		cfg.ListenAddress = listenAddr
	}

	// Настраиваем логгер
	log = logger.New(cfg.Env)

	// Создаем приложение
	var err error
	app, err = agent.New(cfg, log)
	if err != nil {
		return fmt.Errorf("ошибка инициализации приложения: %w", err)
	}

	return nil
}

func loadConfig() *config.Config {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "конфигурационный файл не прочитан: %v\n", err)
		}
	}
	return config.MustLoad()
}

func init() {
	cobra.OnInitialize()

	// Глобальные флаги
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "конфигурационный файл")
	rootCmd.PersistentFlags().StringVar(&upstreamURL, "upstream", "", "URL центрального сервера")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "", "адрес для приема запросов кассы")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "вывод в формате JSON")
}
