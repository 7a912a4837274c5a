// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// GlobalConfig is the top-level static configuration. Maps to the `duskq:`
// root key in YAML.
type GlobalConfig struct {
	Daemon DaemonConfig `mapstructure:"daemon"`
	Shell  ShellConfig  `mapstructure:"shell"`
	Log    LogConfig    `mapstructure:"log"`
	Bridge BridgeConfig `mapstructure:"bridge"`

	// Groups seeds the daemon's group table at startup, beyond the
	// mandatory "default" group. Key is the group name.
	Groups map[string]GroupConfig `mapstructure:"groups"`

	// Aliases maps the first whitespace-delimited token of an
	// original_command to replacement text, expanded at Add time
	// on task state.
	Aliases map[string]string `mapstructure:"aliases"`
}

// DaemonConfig controls where the daemon keeps its state and how clients
// reach it.
type DaemonConfig struct {
	PueueDirectory string `mapstructure:"pueue_directory"`

	SocketPath string `mapstructure:"socket_path"`
	TCPAddress string `mapstructure:"tcp_address"` // non-empty switches to TCP+TLS

	TLS TLSConfig `mapstructure:"tls"`

	DefaultParallelTasks int `mapstructure:"default_parallel_tasks"`
}

// TLSConfig configures the optional TCP+TLS listener.
type TLSConfig struct {
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// ShellConfig controls how a command string is turned into an argv.
type ShellConfig struct {
	Command string `mapstructure:"command"` // e.g. "sh"
	Flag    string `mapstructure:"flag"`    // e.g. "-c"
}

// GroupConfig seeds one non-default group.
type GroupConfig struct {
	ParallelTasks int `mapstructure:"parallel_tasks"`
}

// BridgeConfig configures the optional External Ingress Bridge.
type BridgeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// LogConfig controls daemon structured logging via a slog+lumberjack
// setup.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  struct {
		Enabled  bool `mapstructure:"enabled"`
		Path     string `mapstructure:"path"`
		Rotation struct {
			MaxSizeMB  int  `mapstructure:"max_size_mb"`
			MaxAgeDays int  `mapstructure:"max_age_days"`
			MaxBackups int  `mapstructure:"max_backups"`
			Compress   bool `mapstructure:"compress"`
		} `mapstructure:"rotation"`
	} `mapstructure:"outputs"`
}

type configRoot struct {
	Duskq GlobalConfig `mapstructure:"duskq"`
}

// Load reads configuration from path. The YAML file uses `duskq:` as its
// root key; environment variables use a DUSKQ_ prefix (e.g.
// DUSKQ_LOG_LEVEL), using viper's replacer-based env binding.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg := root.Duskq

	if err := cfg.applyDefaultsAndValidate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("duskq.daemon.pueue_directory", defaultPueueDirectory())
	v.SetDefault("duskq.daemon.socket_path", "")
	v.SetDefault("duskq.daemon.default_parallel_tasks", 1)

	v.SetDefault("duskq.shell.command", "sh")
	v.SetDefault("duskq.shell.flag", "-c")

	v.SetDefault("duskq.log.level", "info")
	v.SetDefault("duskq.log.outputs.enabled", false)
	v.SetDefault("duskq.log.outputs.rotation.max_size_mb", 50)
	v.SetDefault("duskq.log.outputs.rotation.max_age_days", 14)
	v.SetDefault("duskq.log.outputs.rotation.max_backups", 3)
	v.SetDefault("duskq.log.outputs.rotation.compress", true)

	v.SetDefault("duskq.bridge.enabled", false)
	v.SetDefault("duskq.bridge.subject", "duskq.add")
}

func defaultPueueDirectory() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/duskq"
	}
	return filepath.Join(home, ".local", "share", "duskq")
}

// applyDefaultsAndValidate fills in derived paths and rejects impossible
// combinations.
func (cfg *GlobalConfig) applyDefaultsAndValidate() error {
	if cfg.Daemon.PueueDirectory == "" {
		cfg.Daemon.PueueDirectory = defaultPueueDirectory()
	}
	if cfg.Daemon.SocketPath == "" && cfg.Daemon.TCPAddress == "" {
		cfg.Daemon.SocketPath = filepath.Join(cfg.Daemon.PueueDirectory, "duskq.sock")
	}
	if cfg.Daemon.TCPAddress != "" {
		if cfg.Daemon.TLS.CertFile == "" || cfg.Daemon.TLS.KeyFile == "" {
			return fmt.Errorf("tcp_address set but tls.cert_file/tls.key_file missing")
		}
	}
	if cfg.Shell.Command == "" {
		cfg.Shell.Command = "sh"
	}
	if cfg.Shell.Flag == "" {
		cfg.Shell.Flag = "-c"
	}
	if cfg.Daemon.DefaultParallelTasks < 0 {
		return fmt.Errorf("daemon.default_parallel_tasks must be >= 0")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	case "":
		cfg.Log.Level = "info"
	default:
		return fmt.Errorf("unsupported log level %q", cfg.Log.Level)
	}
	return nil
}

// StatePath is the CBOR snapshot file.
func (cfg *GlobalConfig) StatePath() string {
	return filepath.Join(cfg.Daemon.PueueDirectory, "state.cbor")
}

// TaskLogDir is where per-task combined stdout+stderr logs live.
func (cfg *GlobalConfig) TaskLogDir() string {
	return filepath.Join(cfg.Daemon.PueueDirectory, "task_logs")
}

// TaskLogPath returns the log file path for one task.
func (cfg *GlobalConfig) TaskLogPath(taskID int) string {
	return filepath.Join(cfg.TaskLogDir(), fmt.Sprintf("%d.log", taskID))
}

// PidFilePath is the daemon's pidfile, removed on graceful exit.
func (cfg *GlobalConfig) PidFilePath() string {
	return filepath.Join(cfg.Daemon.PueueDirectory, "duskq.pid")
}

// SharedSecretPath holds the bytes compared verbatim on handshake.
func (cfg *GlobalConfig) SharedSecretPath() string {
	return filepath.Join(cfg.Daemon.PueueDirectory, "shared_secret")
}

// EnsureDirectories creates the pueue directory and its task_logs
// subdirectory if they do not already exist.
func (cfg *GlobalConfig) EnsureDirectories() error {
	if err := os.MkdirAll(cfg.Daemon.PueueDirectory, 0o700); err != nil {
		return err
	}
	return os.MkdirAll(cfg.TaskLogDir(), 0o700)
}

// TickInterval is the Scheduler Loop's sleep between ticks.
const TickInterval = 200 * time.Millisecond
