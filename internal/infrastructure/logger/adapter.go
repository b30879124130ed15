package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"device-agent/internal/application/port/output"
)

var _ output.LoggerPort = (*ZapAdapter)(nil)

// ZapAdapter implements output.LoggerPort on a zap logger writing JSON lines
// to a per-task file under ./log/ and warnings and up to stderr.
type ZapAdapter struct {
	logger *zap.SugaredLogger
	closer func() error
}

// NewZapAdapter creates the logger for one task. The file name is
// timestamp_safeTaskName.log.
func NewZapAdapter(task string) (*ZapAdapter, error) {
	if err := os.MkdirAll("log", 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.log", time.Now().Format("2006-01-02_15-04-05"), sanitize(task))
	file, err := os.Create(filepath.Join("log", filename))
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), zapcore.DebugLevel),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stderr), zapcore.WarnLevel),
	)

	z := zap.New(core)
	return &ZapAdapter{
		logger: z.Sugar(),
		closer: func() error {
			_ = z.Sync()
			return file.Close()
		},
	}, nil
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *ZapAdapter {
	return &ZapAdapter{
		logger: zap.NewNop().Sugar(),
		closer: func() error { return nil },
	}
}

func (l *ZapAdapter) Debug(msg string, args ...any) { l.logger.Debugw(msg, args...) }
func (l *ZapAdapter) Info(msg string, args ...any)  { l.logger.Infow(msg, args...) }
func (l *ZapAdapter) Warn(msg string, args ...any)  { l.logger.Warnw(msg, args...) }
func (l *ZapAdapter) Error(msg string, args ...any) { l.logger.Errorw(msg, args...) }

func (l *ZapAdapter) WithField(key string, value any) output.LoggerPort {
	return &ZapAdapter{
		logger: l.logger.With(key, value),
		closer: func() error { return nil },
	}
}

func (l *ZapAdapter) Close() error {
	return l.closer()
}

// sanitize makes a task name safe to use in a file name.
func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, s)
	s = strings.Trim(s, "_")
	if s == "" {
		return "task"
	}
	if len(s) > 60 {
		s = s[:60]
	}
	return s
}
