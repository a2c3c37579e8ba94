// Package log 封装了基于 zap 的全局日志记录器。
package log

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"docqa-go/internal/config"
)

// 未调用 Init 之前使用 no-op logger，保证测试与命令行工具可以直接调用日志函数。
var sugar = zap.NewNop().Sugar()

// Init 按配置替换全局 logger。
func Init(cfg config.LogConfig) error {
	logger, err := build(cfg)
	if err != nil {
		return err
	}
	sugar = logger.Sugar()
	return nil
}

func build(cfg config.LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	// console 使用彩色开发者格式，其余情况使用 JSON
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.Encoding = "json"
	}
	zc.Level = level
	zc.OutputPaths = []string{"stdout"}
	if cfg.OutputPath != "" {
		if err := os.MkdirAll(cfg.OutputPath, os.ModePerm); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}
		zc.OutputPaths = append(zc.OutputPaths, filepath.Join(cfg.OutputPath, "app.log"))
	}
	return zc.Build()
}

// With 返回附带固定字段的子 logger，例如 log.With("component", "kafka")。
func With(keysAndValues ...interface{}) *zap.SugaredLogger {
	return sugar.With(keysAndValues...)
}

func Debugf(template string, args ...interface{}) {
	sugar.Debugf(template, args...)
}

func Info(msg string) {
	sugar.Info(msg)
}

func Infof(template string, args ...interface{}) {
	sugar.Infof(template, args...)
}

// Infow 使用键值对记录结构化日志。
func Infow(msg string, keysAndValues ...interface{}) {
	sugar.Infow(msg, keysAndValues...)
}

func Warnf(template string, args ...interface{}) {
	sugar.Warnf(template, args...)
}

func Warnw(msg string, keysAndValues ...interface{}) {
	sugar.Warnw(msg, keysAndValues...)
}

// Error 记录一条 error 级别的日志，并附带 error 字段
func Error(msg string, err error) {
	sugar.Errorw(msg, "error", err)
}

func Errorf(template string, args ...interface{}) {
	sugar.Errorf(template, args...)
}

func Errorw(msg string, keysAndValues ...interface{}) {
	sugar.Errorw(msg, keysAndValues...)
}

// Sync 刷新缓冲的日志。
func Sync() {
	_ = sugar.Sync()
}
