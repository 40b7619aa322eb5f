package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide logger. It discards everything until InitLogging
// or InitConsoleLogging replaces it.
var Log = zap.NewNop()

var logFile *os.File

// InitLogging enables debug logging to <dataDir>/debug.log when HELIX_DEBUG
// is set. The terminal belongs to the TUI, so nothing is written to stdout.
func InitLogging(dataDir string) {
	if !CheckDebug() {
		return
	}

	logPath := filepath.Join(dataDir, "debug.log")

	// 0600 - may contain conversation content
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		return
	}
	logFile = f

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(f), zapcore.DebugLevel)

	Log = zap.New(core, zap.AddCaller())
	Log.Debug("debug logging started", zap.String("path", logPath))
}

// InitConsoleLogging logs to stderr, for commands that do not own the terminal.
func InitConsoleLogging(verbose bool) error {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	if verbose || CheckDebug() {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	Log = logger
	return nil
}

// SyncLogging flushes buffered entries and closes the debug log file.
func SyncLogging() {
	_ = Log.Sync()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}
