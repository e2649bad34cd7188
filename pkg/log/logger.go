package log

import (
	"bytes"
	"fmt"
	stdlog "log"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type loggerWriter struct {
	logFunc func(msg string, fields ...zap.Field)
}

func (l *loggerWriter) Write(p []byte) (int, error) {
	l.logFunc(string(bytes.TrimSpace(p)))
	return len(p), nil
}

// Logger writes structured JSON logs.
//
// Each log record has a 'subsystem' field identifying the component that
// logged it, such as 'replication' or 'hub.pubsub'. Records are filtered by
// the configured minimum level, except records from enabled subsystems which
// are always logged.
type Logger interface {
	Subsystem() string
	// WithSubsystem creates a new logger with the given subsystem.
	WithSubsystem(s string) Logger
	With(fields ...zap.Field) Logger
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Sync() error
	// StdLogger returns a standard library logger that writes records with
	// the given level, such as for http.Server.ErrorLog.
	StdLogger(level zapcore.Level) *stdlog.Logger
}

type logger struct {
	core zapcore.Core

	subsystem         string
	subsystemEnabled  bool
	enabledSubsystems []string

	errorOutput zapcore.WriteSyncer
}

// NewLogger creates a logger from the given configuration.
func NewLogger(conf Config) (Logger, error) {
	zapLevel, err := zapLevelFromString(conf.Level)
	if err != nil {
		return nil, err
	}

	output := conf.Output
	if output == "" {
		output = "stderr"
	}
	sink, _, err := zap.Open(output)
	if err != nil {
		return nil, fmt.Errorf("open sink: %s: %w", output, err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	// The logger name is used as the subsystem.
	encoderConfig.NameKey = "subsystem"
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(
		"2006-01-02T15:04:05.999Z07:00",
	)

	return &logger{
		core: &levelOverrideCore{
			core: zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderConfig),
				sink,
				zap.NewAtomicLevelAt(zapLevel),
			),
		},
		subsystem:         "main",
		subsystemEnabled:  subsystemMatch("main", conf.Subsystems),
		enabledSubsystems: conf.Subsystems,
		errorOutput:       sink,
	}, nil
}

func (l *logger) Subsystem() string {
	return l.subsystem
}

func (l *logger) WithSubsystem(s string) Logger {
	if s == l.subsystem {
		return l
	}

	clone := l.clone()
	clone.subsystem = s
	clone.subsystemEnabled = subsystemMatch(s, clone.enabledSubsystems)
	return clone
}

func (l *logger) With(fields ...zap.Field) Logger {
	if len(fields) == 0 {
		return l
	}
	clone := l.clone()
	clone.core = clone.core.With(fields)
	return clone
}

func (l *logger) Debug(msg string, fields ...zap.Field) {
	l.write(zap.DebugLevel, msg, fields)
}

func (l *logger) Info(msg string, fields ...zap.Field) {
	l.write(zap.InfoLevel, msg, fields)
}

func (l *logger) Warn(msg string, fields ...zap.Field) {
	l.write(zap.WarnLevel, msg, fields)
}

func (l *logger) Error(msg string, fields ...zap.Field) {
	l.write(zap.ErrorLevel, msg, fields)
}

func (l *logger) Sync() error {
	return l.core.Sync()
}

func (l *logger) StdLogger(level zapcore.Level) *stdlog.Logger {
	return stdlog.New(&loggerWriter{
		logFunc: func(msg string, fields ...zap.Field) {
			l.write(level, msg, fields)
		},
	}, "", 0)
}

func (l *logger) clone() *logger {
	clone := *l
	return &clone
}

func (l *logger) write(lvl zapcore.Level, msg string, fields []zap.Field) {
	// Enabled subsystems bypass the level filter.
	if !l.subsystemEnabled && !l.core.Enabled(lvl) {
		return
	}

	ce := l.core.Check(zapcore.Entry{
		LoggerName: l.subsystem,
		Time:       time.Now(),
		Level:      lvl,
		Message:    msg,
	}, nil)
	if ce == nil {
		return
	}
	ce.ErrorOutput = l.errorOutput
	ce.Write(fields...)
}

type nopLogger struct {
}

func NewNopLogger() Logger {
	return &nopLogger{}
}

func (l *nopLogger) Subsystem() string {
	return ""
}

func (l *nopLogger) WithSubsystem(_ string) Logger {
	return l
}

func (l *nopLogger) With(_ ...zap.Field) Logger {
	return l
}

func (l *nopLogger) Debug(_ string, _ ...zap.Field) {
}

func (l *nopLogger) Info(_ string, _ ...zap.Field) {
}

func (l *nopLogger) Warn(_ string, _ ...zap.Field) {
}

func (l *nopLogger) Error(_ string, _ ...zap.Field) {
}

func (l *nopLogger) Sync() error {
	return nil
}

func (l *nopLogger) StdLogger(_ zapcore.Level) *stdlog.Logger {
	return stdlog.New(&loggerWriter{
		logFunc: func(_ string, _ ...zap.Field) {},
	}, "", 0)
}

func subsystemMatch(subsystem string, enabled []string) bool {
	for _, s := range enabled {
		if subsystem == s {
			return true
		}
	}
	return false
}

func zapLevelFromString(s string) (zapcore.Level, error) {
	switch s {
	case "debug":
		return zap.DebugLevel, nil
	case "info":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zapcore.Level(0), fmt.Errorf("unsupported level: %s", s)
	}
}

// levelOverrideCore wraps a core but doesn't filter by level in Check, so
// records from enabled subsystems are written regardless of level.
type levelOverrideCore struct {
	core zapcore.Core
}

func (c *levelOverrideCore) Enabled(lvl zapcore.Level) bool {
	return c.core.Enabled(lvl)
}

func (c *levelOverrideCore) With(fields []zap.Field) zapcore.Core {
	return &levelOverrideCore{
		core: c.core.With(fields),
	}
}

func (c *levelOverrideCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return ce.AddCore(ent, c.core)
}

func (c *levelOverrideCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	return c.core.Write(ent, fields)
}

func (c *levelOverrideCore) Sync() error {
	return c.core.Sync()
}
