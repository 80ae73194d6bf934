package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel 解析日志级别（大小写不敏感），未知值回落到 info
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func newEncoder(format string) (zapcore.Encoder, error) {
	switch format {
	case "", "json":
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "timestamp"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(cfg), nil
	case "console":
		return zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want json or console)", format)
	}
}

// NewLogger 创建服务 Logger，输出到 stdout（便于容器日志采集）
// level: LOG_LEVEL；format: LOG_FORMAT，json（默认）或 console
func NewLogger(level, format, serviceName string) (*zap.Logger, error) {
	return newLogger(zapcore.Lock(os.Stdout), level, format, serviceName)
}

func newLogger(out zapcore.WriteSyncer, level, format, serviceName string) (*zap.Logger, error) {
	enc, err := newEncoder(format)
	if err != nil {
		return nil, err
	}

	opts := []zap.Option{
		zap.AddCaller(),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
		zap.AddStacktrace(zapcore.ErrorLevel),
	}
	if format == "console" {
		opts = append(opts, zap.Development())
	}

	l := zap.New(zapcore.NewCore(enc, out, zap.NewAtomicLevelAt(ParseLevel(level))), opts...)

	if serviceName != "" {
		l = l.With(zap.String("service_name", serviceName))
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		l = l.With(zap.String("hostname", hostname))
	}
	return l, nil
}
