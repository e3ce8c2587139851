package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// ScorerConfig holds the settings for the optional external drift scorer.
type ScorerConfig struct {
	URL     string
	Timeout time.Duration
	Retries int
}

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Port        int
	FrontendURL string
	Env         string // development or production
	LogLevel    string

	DataPath  string
	LogsDir   string // directory holding pipeline-log-*.json files
	ModelPath string
	DBPath    string

	Scorer ScorerConfig
}

// Production reports whether the production safety gates are active.
func (c *AppConfig) Production() bool {
	return c.Env == "production"
}

// Load loads the configuration from .env files and environment variables.
func Load() (*AppConfig, error) {
	// 1. Try to load from the executable's directory (highest priority for daemons)
	exePath, err := os.Executable()
	exeDir := ""
	if err == nil {
		exeDir = filepath.Dir(exePath)
		envPath := filepath.Join(exeDir, ".env")
		if err := godotenv.Load(envPath); err == nil {
			log.Debug().Str("path", envPath).Msg("Loaded configuration from binary directory")
		}
	}

	// 2. Fallback to current working directory (useful for development/go run)
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found in working directory, relying on environment variables or binary-relative .env")
	}

	// 3. Resolve data paths
	dataPath := os.Getenv("DATA_PATH")
	if dataPath == "" {
		if exeDir != "" {
			dataPath = exeDir
		} else {
			dataPath = "."
		}
	}

	logsDir := getEnv("LOGS_DIR", filepath.Join(dataPath, "pipeline-logs"))
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		log.Warn().Err(err).Str("path", logsDir).Msg("Failed to create pipeline-logs directory")
	}

	scorerTimeout, _ := strconv.Atoi(getEnv("SCORER_TIMEOUT_SECONDS", "10"))

	cfg := &AppConfig{
		Port:        getEnvInt("PORT", 8080),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
		Env:         getEnv("APP_ENV", getEnv("NODE_ENV", "development")),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),
		DataPath:    dataPath,
		LogsDir:     logsDir,
		ModelPath:   getEnv("MODEL_PATH", filepath.Join(dataPath, "baseline-model.json")),
		DBPath:      getEnv("DB_PATH", filepath.Join(dataPath, "driftwatch.db")),
		Scorer: ScorerConfig{
			URL:     getEnv("SCORER_URL", ""),
			Timeout: time.Duration(scorerTimeout) * time.Second,
			Retries: getEnvInt("SCORER_RETRIES", 3),
		},
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
