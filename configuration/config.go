package configuration

import (
	"os"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/stackpilot/stackpilot/errors"
)

const (
	packageName = "configuration"
)

// Config holds the application configuration
type Config struct {
	StackDir      string
	StatePath     string
	CheckInterval int
	AWSRegion     string
	AccessKeyID   string
	AccessSecret  string
	EndpointURL   string
	LogLevel      string
	MaxRetries    int
	RetryDelay    int
	ApplyTimeout  int
	MetricsAddr   string
	ManagedByTag  string
}

// Initialize sets up the configuration system
func Initialize() (*Config, error) {
	logger := zap.L().With(
		zap.String("package", packageName),
		zap.String("function", "Initialize"),
	)

	// Set default values
	viper.SetDefault("STACK_DIR", ".")
	viper.SetDefault("STATE_PATH", "stackpilot.tfstate")
	viper.SetDefault("CHECK_INTERVAL_MINUTES", 5)
	viper.SetDefault("AWS_REGION", "us-east-1")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MAX_RETRIES", 3)
	viper.SetDefault("RETRY_DELAY_SECONDS", 5)
	viper.SetDefault("APPLY_TIMEOUT_SECONDS", 300)
	viper.SetDefault("METRICS_LISTEN_ADDR", "")
	viper.SetDefault("MANAGED_BY_TAG", "stackpilot")

	// Configure Viper to read from environment
	viper.AutomaticEnv()

	// Read from .env file
	viper.SetConfigFile(".env")
	if err := viper.ReadInConfig(); err != nil {
		// With an explicit config file viper reports absence as a plain
		// path error rather than ConfigFileNotFoundError.
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			return nil, errors.New(errors.ErrConfigParse, "error reading config file",
				map[string]interface{}{
					"config_file": ".env",
				}, err)
		}
		logger.Info("No .env file found, using environment variables and defaults",
			zap.String("operation", "config_loading"),
		)
	}

	// Validate paths
	stackDir := viper.GetString("STACK_DIR")
	if stackDir == "" {
		return nil, errors.New(errors.ErrConfigInvalid, "invalid STACK_DIR",
			map[string]interface{}{
				"config_key": "STACK_DIR",
			}, nil)
	}

	statePath := viper.GetString("STATE_PATH")
	if statePath == "" {
		return nil, errors.New(errors.ErrConfigInvalid, "invalid STATE_PATH",
			map[string]interface{}{
				"config_key": "STATE_PATH",
			}, nil)
	}

	// Validate interval
	interval := viper.GetInt("CHECK_INTERVAL_MINUTES")
	if interval <= 0 {
		return nil, errors.New(errors.ErrConfigInvalid, "invalid CHECK_INTERVAL_MINUTES",
			map[string]interface{}{
				"config_key": "CHECK_INTERVAL_MINUTES",
				"value":      interval,
			}, nil)
	}

	// Validate retry settings
	maxRetries := viper.GetInt("MAX_RETRIES")
	if maxRetries < 0 {
		return nil, errors.New(errors.ErrConfigInvalid, "invalid MAX_RETRIES",
			map[string]interface{}{
				"config_key": "MAX_RETRIES",
				"value":      maxRetries,
			}, nil)
	}

	retryDelay := viper.GetInt("RETRY_DELAY_SECONDS")
	if retryDelay <= 0 {
		return nil, errors.New(errors.ErrConfigInvalid, "invalid RETRY_DELAY_SECONDS",
			map[string]interface{}{
				"config_key": "RETRY_DELAY_SECONDS",
				"value":      retryDelay,
			}, nil)
	}

	applyTimeout := viper.GetInt("APPLY_TIMEOUT_SECONDS")
	if applyTimeout <= 0 {
		return nil, errors.New(errors.ErrConfigInvalid, "invalid APPLY_TIMEOUT_SECONDS",
			map[string]interface{}{
				"config_key": "APPLY_TIMEOUT_SECONDS",
				"value":      applyTimeout,
			}, nil)
	}

	managedBy := viper.GetString("MANAGED_BY_TAG")
	if managedBy == "" {
		return nil, errors.New(errors.ErrConfigInvalid, "invalid MANAGED_BY_TAG",
			map[string]interface{}{
				"config_key": "MANAGED_BY_TAG",
			}, nil)
	}

	config := &Config{
		StackDir:      stackDir,
		StatePath:     statePath,
		CheckInterval: interval,
		AWSRegion:     viper.GetString("AWS_REGION"),
		AccessKeyID:   viper.GetString("AWS_ACCESS_KEY_ID"),
		AccessSecret:  viper.GetString("AWS_SECRET_ACCESS_KEY"),
		EndpointURL:   viper.GetString("AWS_ENDPOINT_URL"),
		LogLevel:      viper.GetString("LOG_LEVEL"),
		MaxRetries:    maxRetries,
		RetryDelay:    retryDelay,
		ApplyTimeout:  applyTimeout,
		MetricsAddr:   viper.GetString("METRICS_LISTEN_ADDR"),
		ManagedByTag:  managedBy,
	}

	logger.Info("Configuration loaded successfully",
		zap.String("operation", "config_complete"),
		zap.String("stack_dir", config.StackDir),
		zap.String("state_path", config.StatePath),
		zap.Int("check_interval", config.CheckInterval),
	)
	return config, nil
}
