package config

import (
	"runtime"
	"time"

	"github.com/booltox/toolhost/internal/manifest"
)

const (
	DefaultDataDir   = ".toolhost"
	ConfigFileName   = "config.json"
	DefaultListen    = "127.0.0.1:9317"
	EnvPrefix        = "TOOLHOST"
	DevToolsDirEnv   = "BOOLTOX_DEV_TOOLS_DIR"
	defaultToolsDir  = "tools"
	defaultSDKSubdir = "sdk"
)

// Config is the complete host configuration.
type Config struct {
	DataDir         string            `json:"data_dir" mapstructure:"data_dir"`
	ToolsDir        string            `json:"tools_dir" mapstructure:"tools_dir"`
	DevMode         bool              `json:"dev_mode" mapstructure:"dev_mode"`
	DevToolsDir     string            `json:"dev_tools_dir,omitempty" mapstructure:"dev_tools_dir"`
	ExamplesDir     string            `json:"examples_dir,omitempty" mapstructure:"examples_dir"`
	LocalTools      []LocalToolRef    `json:"local_tools,omitempty" mapstructure:"local_tools"`
	SDKPath         string            `json:"sdk_path,omitempty" mapstructure:"sdk_path"`
	ProtocolVersion string            `json:"protocol_version" mapstructure:"protocol_version"`
	Listen          string            `json:"listen" mapstructure:"listen"`
	Watch           bool              `json:"watch" mapstructure:"watch"`
	Notifications   bool              `json:"notifications" mapstructure:"notifications"`
	Supervisor      SupervisorConfig  `json:"supervisor" mapstructure:"supervisor"`
	Interpreters    InterpreterConfig `json:"interpreters" mapstructure:"interpreters"`
	Environment     EnvironmentConfig `json:"environment" mapstructure:"environment"`
	Logging         *LogConfig        `json:"logging,omitempty" mapstructure:"logging"`
	Metrics         MetricsConfig     `json:"metrics" mapstructure:"metrics"`
	Tracing         TracingConfig     `json:"tracing" mapstructure:"tracing"`
}

// LocalToolRef points at a tool directory outside the scanned directories.
type LocalToolRef struct {
	ID   string `json:"id,omitempty" mapstructure:"id"`
	Path string `json:"path" mapstructure:"path"`
}

// SupervisorConfig holds session and launcher timings.
type SupervisorConfig struct {
	// TeardownDelay is how long a session with no users stays alive waiting
	// for a new start.
	TeardownDelay       time.Duration `json:"teardown_delay" mapstructure:"teardown_delay"`
	ReadyPollInterval   time.Duration `json:"ready_poll_interval" mapstructure:"ready_poll_interval"`
	ReadyProbeTimeout   time.Duration `json:"ready_probe_timeout" mapstructure:"ready_probe_timeout"`
	DefaultReadyTimeout time.Duration `json:"default_ready_timeout" mapstructure:"default_ready_timeout"`
	KillGrace           time.Duration `json:"kill_grace" mapstructure:"kill_grace"`
	// DetachedReleaseDelay releases binary and cli sessions after launch.
	// Zero keeps them until their process exits or they are stopped.
	DetachedReleaseDelay time.Duration `json:"detached_release_delay" mapstructure:"detached_release_delay"`
}

// InterpreterConfig names the interpreters used for python and node backends.
type InterpreterConfig struct {
	Python string `json:"python" mapstructure:"python"`
	Node   string `json:"node" mapstructure:"node"`
	NPM    string `json:"npm" mapstructure:"npm"`
}

// EnvironmentConfig controls the environment tool processes inherit.
type EnvironmentConfig struct {
	// InheritAll passes the host environment through unfiltered. When false
	// only AllowedVars are inherited.
	InheritAll  bool              `json:"inherit_all" mapstructure:"inherit_all"`
	AllowedVars []string          `json:"allowed_vars,omitempty" mapstructure:"allowed_vars"`
	Extra       map[string]string `json:"extra,omitempty" mapstructure:"extra"`
	// EnhancePath adds well-known tool directories to a minimal PATH.
	EnhancePath bool `json:"enhance_path" mapstructure:"enhance_path"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable_file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable_console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log_dir"`
	MaxSize       int    `json:"max_size" mapstructure:"max_size"`       // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max_backups"` // number of backup files
	MaxAge        int    `json:"max_age" mapstructure:"max_age"`         // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json_format"`
}

// MetricsConfig toggles the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// TracingConfig holds OpenTelemetry export settings.
type TracingConfig struct {
	Enabled      bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName  string  `json:"service_name" mapstructure:"service_name"`
	OTLPEndpoint string  `json:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	SampleRate   float64 `json:"sample_rate" mapstructure:"sample_rate"`
}

// DefaultLogConfig returns default logging configuration
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:         "info",
		EnableFile:    true,
		EnableConsole: true,
		Filename:      "toolhost.log",
		MaxSize:       10,
		MaxBackups:    5,
		MaxAge:        30,
		Compress:      true,
	}
}

// DefaultSupervisorConfig returns the stock timings.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		TeardownDelay:        time.Second,
		ReadyPollInterval:    500 * time.Millisecond,
		ReadyProbeTimeout:    time.Second,
		DefaultReadyTimeout:  manifest.DefaultReadyTimeout,
		KillGrace:            2 * time.Second,
		DetachedReleaseDelay: 500 * time.Millisecond,
	}
}

// DefaultInterpreters returns the interpreters found on PATH by default.
func DefaultInterpreters() InterpreterConfig {
	python := "python3"
	if runtime.GOOS == "windows" {
		python = "python"
	}
	return InterpreterConfig{Python: python, Node: "node", NPM: "npm"}
}

// DefaultConfig returns a configuration with every default applied except
// the data directory, which Load resolves.
func DefaultConfig() *Config {
	return &Config{
		ProtocolVersion: manifest.DefaultHostProtocol,
		Listen:          DefaultListen,
		Notifications:   true,
		Supervisor:      DefaultSupervisorConfig(),
		Interpreters:    DefaultInterpreters(),
		Environment:     EnvironmentConfig{InheritAll: true, EnhancePath: true},
		Logging:         DefaultLogConfig(),
		Tracing: TracingConfig{
			ServiceName:  "toolhost",
			OTLPEndpoint: "localhost:4318",
			SampleRate:   1.0,
		},
	}
}
