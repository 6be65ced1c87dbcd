package logsvc

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/trezcool/gradebook/core"
)

// ZapLogger adapts a zap logger to core.Logger.
// expected args: error, map[string]interface{} (extra fields), anything else is logged under "args"
type ZapLogger struct {
	zl *zap.Logger
}

var _ core.Logger = (*ZapLogger)(nil)

func NewZapLogger(name string, debug bool) (*ZapLogger, error) {
	config := zap.NewProductionConfig()
	if debug {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	config.DisableStacktrace = !debug
	zl, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return &ZapLogger{zl: zl.Named(name)}, nil
}

// NewZapLoggerFrom wraps an already built zap logger.
func NewZapLoggerFrom(zl *zap.Logger) *ZapLogger {
	return &ZapLogger{zl: zl}
}

func (l *ZapLogger) Sync() error { return l.zl.Sync() }

func fields(args []interface{}) []zap.Field {
	fs := make([]zap.Field, 0, len(args))
	var rest []interface{}
	for _, arg := range args {
		switch a := arg.(type) {
		case nil:
		case error:
			fs = append(fs, zap.Error(a))
		case map[string]interface{}:
			for k, v := range a {
				fs = append(fs, zap.Any(k, v))
			}
		default:
			rest = append(rest, a)
		}
	}
	if len(rest) > 0 {
		fs = append(fs, zap.Any("args", rest))
	}
	return fs
}

func (l *ZapLogger) Debug(msg string, args ...interface{}) { l.zl.Debug(msg, fields(args)...) }
func (l *ZapLogger) Info(msg string, args ...interface{})  { l.zl.Info(msg, fields(args)...) }
func (l *ZapLogger) Warn(msg string, args ...interface{})  { l.zl.Warn(msg, fields(args)...) }
func (l *ZapLogger) Error(msg string, args ...interface{}) { l.zl.Error(msg, fields(args)...) }

func (l *ZapLogger) Fatal(msg string, args ...interface{}) {
	l.zl.Error(msg, fields(args)...)
	_ = l.zl.Sync()
	os.Exit(1)
}
