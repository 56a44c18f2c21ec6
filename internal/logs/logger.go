package logs

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/booltox/toolhost/internal/config"
)

// Log level constants
const (
	LogLevelTrace = "trace"
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// ParseLevel maps a configured level name onto a zap level. Unknown names
// fall back to info.
func ParseLevel(name string) zapcore.Level {
	switch name {
	case LogLevelTrace, LogLevelDebug:
		return zap.DebugLevel
	case LogLevelWarn:
		return zap.WarnLevel
	case LogLevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// SetupLogger creates a logger with file and console outputs based on configuration
func SetupLogger(cfg *config.LogConfig) (*zap.Logger, error) {
	if cfg == nil {
		cfg = config.DefaultLogConfig()
	}
	level := ParseLevel(cfg.Level)

	var cores []zapcore.Core
	if cfg.EnableConsole {
		cores = append(cores, zapcore.NewCore(consoleEncoder(), zapcore.AddSync(os.Stderr), level))
	}
	if cfg.EnableFile {
		fileCore, err := fileCore(cfg, cfg.Filename, level)
		if err != nil {
			return nil, fmt.Errorf("failed to create file core: %w", err)
		}
		cores = append(cores, fileCore)
	}
	if len(cores) == 0 {
		return nil, fmt.Errorf("no log outputs configured")
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// SetupCommandLogger creates the logger for one-shot CLI commands: console
// only, warn by default so command output stays readable.
func SetupCommandLogger(level string) *zap.Logger {
	if level == "" {
		level = LogLevelWarn
	}
	core := zapcore.NewCore(consoleEncoder(), zapcore.AddSync(os.Stderr), ParseLevel(level))
	return zap.New(core)
}

// CreateToolLogger returns a logger that writes a tool's process output to
// its own rotating file in addition to parent.
func CreateToolLogger(cfg *config.LogConfig, parent *zap.Logger, toolID string) (*zap.Logger, error) {
	if cfg == nil {
		cfg = config.DefaultLogConfig()
	}
	if parent == nil {
		parent = zap.NewNop()
	}
	if !cfg.EnableFile {
		return parent.With(zap.String("tool_id", toolID)), nil
	}

	core, err := fileCore(cfg, ToolLogFileName(toolID), ParseLevel(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("failed to create file core for tool %s: %w", toolID, err)
	}
	tee := zapcore.NewTee(parent.Core(), core)
	return zap.New(tee).With(zap.String("tool_id", toolID)), nil
}

// ReadToolLogTail returns the last n lines of a tool's log file.
func ReadToolLogTail(cfg *config.LogConfig, toolID string, n int) ([]string, error) {
	if n <= 0 {
		n = 50
	}
	if n > 500 {
		n = 500
	}
	logDir := ""
	if cfg != nil {
		logDir = cfg.LogDir
	}
	path, err := LogFilePath(logDir, ToolLogFileName(toolID))
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open log for tool %s: %w", toolID, err)
	}
	defer f.Close()

	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log for tool %s: %w", toolID, err)
	}
	return ring, nil
}

func fileCore(cfg *config.LogConfig, filename string, level zapcore.Level) (zapcore.Core, error) {
	path, err := LogFilePath(cfg.LogDir, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to get log file path: %w", err)
	}
	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	encoder := fileEncoder()
	if cfg.JSONFormat {
		encoder = jsonEncoder()
	}
	return zapcore.NewCore(encoder, zapcore.AddSync(writer), level), nil
}

func consoleEncoder() zapcore.Encoder {
	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewConsoleEncoder(ec)
}

func fileEncoder() zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	ec.ConsoleSeparator = " | "
	return zapcore.NewConsoleEncoder(ec)
}

func jsonEncoder() zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	ec.EncodeLevel = zapcore.LowercaseLevelEncoder
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewJSONEncoder(ec)
}
