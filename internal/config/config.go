package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	// Rooms and presence.
	GracePeriod        time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	GhostCleanupSlack  time.Duration `mapstructure:"ghost_cleanup_slack" yaml:"ghost_cleanup_slack"`
	AdminHelpWindow    time.Duration `mapstructure:"admin_help_window" yaml:"admin_help_window"`
	MinDurationMinutes int           `mapstructure:"min_duration_minutes" yaml:"min_duration_minutes"`
	MaxDurationMinutes int           `mapstructure:"max_duration_minutes" yaml:"max_duration_minutes"`
	MinDurationHours   float64       `mapstructure:"min_duration_hours" yaml:"min_duration_hours"`
	MaxDurationHours   float64       `mapstructure:"max_duration_hours" yaml:"max_duration_hours"`
	DefaultColor       string        `mapstructure:"default_color" yaml:"default_color"`
	DefaultRoom        string        `mapstructure:"default_room" yaml:"default_room"`
	DefaultName        string        `mapstructure:"default_name" yaml:"default_name"`
	PasswordCost       int           `mapstructure:"password_cost" yaml:"password_cost"`

	// WebSocket connections.
	MaxMessageBytes ByteSize      `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	SendBuffer      int           `mapstructure:"send_buffer" yaml:"send_buffer"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ChatRate        float64       `mapstructure:"chat_rate" yaml:"chat_rate"`
	ChatBurst       int           `mapstructure:"chat_burst" yaml:"chat_burst"`

	// Uploads.
	UploadDir           string        `mapstructure:"upload_dir" yaml:"upload_dir"`
	DatabasePath        string        `mapstructure:"database_path" yaml:"database_path"`
	MaxFileSize         ByteSize      `mapstructure:"max_file_size" yaml:"max_file_size"`
	MaxRoomStorage      ByteSize      `mapstructure:"max_room_storage" yaml:"max_room_storage"`
	MaxTotalStorage     ByteSize      `mapstructure:"max_total_storage" yaml:"max_total_storage"`
	OrphanMaxAge        time.Duration `mapstructure:"orphan_max_age" yaml:"orphan_max_age"`
	OrphanSweepInterval time.Duration `mapstructure:"orphan_sweep_interval" yaml:"orphan_sweep_interval"`
	TicketSecret        string        `mapstructure:"ticket_secret" yaml:"ticket_secret"`

	StaticDir   string   `mapstructure:"static_dir" yaml:"static_dir"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":28881",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",

		GracePeriod:        30 * time.Minute,
		GhostCleanupSlack:  time.Second,
		AdminHelpWindow:    5 * time.Second,
		MinDurationMinutes: 5,
		MaxDurationMinutes: 1440,
		MinDurationHours:   1,
		MaxDurationHours:   72,
		DefaultColor:       "#2f80ed",
		DefaultRoom:        "lobby",
		DefaultName:        "匿名",
		PasswordCost:       10,

		MaxMessageBytes: 64 * KiB,
		SendBuffer:      64,
		WriteTimeout:    5 * time.Second,
		ChatRate:        5,
		ChatBurst:       10,

		UploadDir:           "./uploads",
		DatabasePath:        "./burnroom.db",
		MaxFileSize:         200 * MiB,
		MaxRoomStorage:      500 * MiB,
		MaxTotalStorage:     2 * GiB,
		OrphanMaxAge:        24 * time.Hour,
		OrphanSweepInterval: time.Hour,

		CORSOrigins: []string{"*"},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// It is used for command line overrides.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.UploadDir != "" {
		c.UploadDir = other.UploadDir
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.StaticDir != "" {
		c.StaticDir = other.StaticDir
	}
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.MinDurationMinutes <= 0 || c.MinDurationMinutes > c.MaxDurationMinutes {
		errs = append(errs, fmt.Errorf("duration minutes bounds %d..%d", c.MinDurationMinutes, c.MaxDurationMinutes))
	}
	if c.MinDurationHours <= 0 || c.MinDurationHours > c.MaxDurationHours {
		errs = append(errs, fmt.Errorf("duration hours bounds %g..%g", c.MinDurationHours, c.MaxDurationHours))
	}
	if c.GracePeriod <= 0 {
		errs = append(errs, errors.New("grace_period must be positive"))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("send_buffer must be positive"))
	}
	if c.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("max_message_bytes must be positive"))
	}
	if c.UploadDir == "" {
		errs = append(errs, errors.New("upload_dir is required"))
	}
	return errors.Join(errs...)
}
