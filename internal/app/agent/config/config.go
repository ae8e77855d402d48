package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

const (
	defaultListenAddress = "localhost:9090"
	defaultUpstreamURL   = "http://localhost:8080"
	defaultEnv           = EnvLocal
	defaultConfigDir     = ".possync"
	defaultDBFile        = "possync.db"
	defaultCacheVersion  = "v3"
	defaultSyncInterval  = 15
	defaultOfflinePage   = "/offline"
)

type Config struct {
	Env             string `mapstructure:"app_env"`
	ListenAddress   string `mapstructure:"listen_address"`
	UpstreamURL     string `mapstructure:"upstream_url"`
	ConfigDir       string `mapstructure:"config_dir"`
	DataPath        string `mapstructure:"data_path"`
	MigrationsPath  string `mapstructure:"migrations_path"`
	CacheVersion    string `mapstructure:"cache_version"`
	SyncInterval    int    `mapstructure:"sync_interval_minutes"`
	OfflinePagePath string `mapstructure:"offline_page_path"`
}

// MustLoad загружает конфигурацию агента из .env и переменных окружения.
func MustLoad() *Config {
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		envPath = "../.env"
	}

	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			fmt.Printf("failed to load .env file: %v\n", err)
		}
	}

	viper.AutomaticEnv()

	viper.SetDefault("APP_ENV", defaultEnv)
	viper.SetDefault("LISTEN_ADDRESS", defaultListenAddress)
	viper.SetDefault("UPSTREAM_URL", defaultUpstreamURL)
	viper.SetDefault("CONFIG_DIR", defaultConfigDir)
	viper.SetDefault("CACHE_VERSION", defaultCacheVersion)
	viper.SetDefault("SYNC_INTERVAL_MINUTES", defaultSyncInterval)
	viper.SetDefault("OFFLINE_PAGE_PATH", defaultOfflinePage)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	configDir := viper.GetString("CONFIG_DIR")
	if configDir == defaultConfigDir {
		configDir = filepath.Join(homeDir, configDir)
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		fmt.Printf("failed to create config directory: %v\n", err)
	}

	dataPath := viper.GetString("DATA_PATH")
	if dataPath == "" {
		dataPath = filepath.Join(configDir, defaultDBFile)
	}

	migrationsPath := viper.GetString("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "migrations"
	}

	return &Config{
		Env:             viper.GetString("APP_ENV"),
		ListenAddress:   viper.GetString("LISTEN_ADDRESS"),
		UpstreamURL:     viper.GetString("UPSTREAM_URL"),
		ConfigDir:       configDir,
		DataPath:        dataPath,
		MigrationsPath:  migrationsPath,
		CacheVersion:    viper.GetString("CACHE_VERSION"),
		SyncInterval:    viper.GetInt("SYNC_INTERVAL_MINUTES"),
		OfflinePagePath: viper.GetString("OFFLINE_PAGE_PATH"),
	}
}
