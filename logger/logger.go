// Package logger provides structured logging for Mycelia.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Standard field names, used instead of raw strings so call sites stay consistent.
const (
	FieldSessionID = "session_id"
	FieldGraphID   = "graph_id"
	FieldNodeID    = "node_id"
	FieldHandler   = "handler"
	FieldComponent = "component"
	FieldOperation = "operation"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
	FieldQueue     = "queue"
	FieldReady     = "ready"
)

var (
	// Logger is the process-wide logger. Safe to use before Initialize: it
	// defaults to a no-op sink so packages can log unconditionally.
	Logger *zap.SugaredLogger
	// JSONOutput records which encoding Initialize last selected.
	JSONOutput bool
)

func init() {
	Logger = zap.NewNop().Sugar()
}

// Initialize configures the global logger. jsonOutput selects structured
// JSON (production) versus human-readable console output (development).
func Initialize(jsonOutput bool) error {
	JSONOutput = jsonOutput

	var zapLogger *zap.Logger
	var err error

	if jsonOutput {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		zapLogger, err = config.Build()
	} else {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapLogger = zap.New(
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(encoderConfig),
				zapcore.AddSync(os.Stdout),
				zap.InfoLevel,
			),
		)
	}

	if err != nil {
		return err
	}

	Logger = zapLogger.Sugar()
	return nil
}

// Named returns a child logger scoped to a component, matching the
// component-tagging convention used across the engine's packages.
func Named(component string) *zap.SugaredLogger {
	return Logger.With(FieldComponent, component)
}
