package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"data-dir":      "data_dir",
	"tools-dir":     "tools_dir",
	"dev":           "dev_mode",
	"dev-tools-dir": "dev_tools_dir",
	"examples-dir":  "examples_dir",
	"sdk-path":      "sdk_path",
	"listen":        "listen",
	"watch":         "watch",
	"log-level":     "logging.level",
	"log-dir":       "logging.log_dir",
}

// Load builds the configuration from defaults, the JSON config file, TOOLHOST_*
// environment variables and any changed flags, in increasing precedence.
// configPath may be empty, in which case <data_dir>/config.json is used when
// it exists.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if flags != nil {
		for flag, key := range flagKeys {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", flag, err)
				}
			}
		}
	}

	if configPath == "" {
		candidate := filepath.Join(v.GetString("data_dir"), ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			configPath = candidate
		}
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if cfg.DevToolsDir == "" {
		cfg.DevToolsDir = os.Getenv(DevToolsDirEnv)
	}
	cfg.resolvePaths()

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(validationErrors(errs)...))
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("tools_dir", "")
	v.SetDefault("dev_mode", false)
	v.SetDefault("dev_tools_dir", "")
	v.SetDefault("examples_dir", "")
	v.SetDefault("sdk_path", "")
	v.SetDefault("protocol_version", d.ProtocolVersion)
	v.SetDefault("listen", d.Listen)
	v.SetDefault("watch", false)
	v.SetDefault("notifications", d.Notifications)

	v.SetDefault("supervisor.teardown_delay", d.Supervisor.TeardownDelay)
	v.SetDefault("supervisor.ready_poll_interval", d.Supervisor.ReadyPollInterval)
	v.SetDefault("supervisor.ready_probe_timeout", d.Supervisor.ReadyProbeTimeout)
	v.SetDefault("supervisor.default_ready_timeout", d.Supervisor.DefaultReadyTimeout)
	v.SetDefault("supervisor.kill_grace", d.Supervisor.KillGrace)
	v.SetDefault("supervisor.detached_release_delay", d.Supervisor.DetachedReleaseDelay)

	v.SetDefault("interpreters.python", d.Interpreters.Python)
	v.SetDefault("interpreters.node", d.Interpreters.Node)
	v.SetDefault("interpreters.npm", d.Interpreters.NPM)

	v.SetDefault("environment.inherit_all", d.Environment.InheritAll)
	v.SetDefault("environment.enhance_path", d.Environment.EnhancePath)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.enable_file", d.Logging.EnableFile)
	v.SetDefault("logging.enable_console", d.Logging.EnableConsole)
	v.SetDefault("logging.filename", d.Logging.Filename)
	v.SetDefault("logging.log_dir", "")
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)
	v.SetDefault("logging.json_format", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// resolvePaths fills directories derived from the data directory and makes
// relative paths absolute.
func (c *Config) resolvePaths() {
	c.DataDir = absPath(c.DataDir)
	if c.ToolsDir == "" {
		c.ToolsDir = filepath.Join(c.DataDir, defaultToolsDir)
	}
	c.ToolsDir = absPath(c.ToolsDir)
	if c.SDKPath == "" {
		c.SDKPath = filepath.Join(c.DataDir, defaultSDKSubdir)
	}
	c.SDKPath = absPath(c.SDKPath)
	if c.DevToolsDir != "" {
		c.DevToolsDir = absPath(c.DevToolsDir)
	}
	if c.ExamplesDir != "" {
		c.ExamplesDir = absPath(c.ExamplesDir)
	}
}

// EnvDir is where per-tool virtual environments live.
func (c *Config) EnvDir() string {
	return filepath.Join(c.DataDir, "envs")
}

func absPath(p string) string {
	if p == "" {
		return p
	}
	if strings.HasPrefix(p, "~"+string(filepath.Separator)) || p == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
