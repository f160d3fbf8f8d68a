package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "BURNROOM"
	envConfigDefaultPath = "BURNROOM_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToByteSizeHook(),
	))
	if err := v.Unmarshal(&cfg, hooks); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, configPath, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, configPath, nil
}

// setDefaults registers every key so AutomaticEnv can see it.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)

	v.SetDefault("grace_period", cfg.GracePeriod)
	v.SetDefault("ghost_cleanup_slack", cfg.GhostCleanupSlack)
	v.SetDefault("admin_help_window", cfg.AdminHelpWindow)
	v.SetDefault("min_duration_minutes", cfg.MinDurationMinutes)
	v.SetDefault("max_duration_minutes", cfg.MaxDurationMinutes)
	v.SetDefault("min_duration_hours", cfg.MinDurationHours)
	v.SetDefault("max_duration_hours", cfg.MaxDurationHours)
	v.SetDefault("default_color", cfg.DefaultColor)
	v.SetDefault("default_room", cfg.DefaultRoom)
	v.SetDefault("default_name", cfg.DefaultName)
	v.SetDefault("password_cost", cfg.PasswordCost)

	v.SetDefault("max_message_bytes", int64(cfg.MaxMessageBytes))
	v.SetDefault("send_buffer", cfg.SendBuffer)
	v.SetDefault("write_timeout", cfg.WriteTimeout)
	v.SetDefault("chat_rate", cfg.ChatRate)
	v.SetDefault("chat_burst", cfg.ChatBurst)

	v.SetDefault("upload_dir", cfg.UploadDir)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("max_file_size", int64(cfg.MaxFileSize))
	v.SetDefault("max_room_storage", int64(cfg.MaxRoomStorage))
	v.SetDefault("max_total_storage", int64(cfg.MaxTotalStorage))
	v.SetDefault("orphan_max_age", cfg.OrphanMaxAge)
	v.SetDefault("orphan_sweep_interval", cfg.OrphanSweepInterval)
	v.SetDefault("ticket_secret", cfg.TicketSecret)

	v.SetDefault("static_dir", cfg.StaticDir)
	v.SetDefault("cors_origins", cfg.CORSOrigins)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
