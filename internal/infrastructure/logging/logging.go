package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns the default console logger used before configuration has
// been loaded.
func New() *zap.Logger {
	return build("info", "", 0, 0)
}

// NewFromConfig builds the process logger: console always, plus a
// rotating JSON file sink when a file path is configured.
func NewFromConfig(level, file string, maxSizeMB, maxBackups int) *zap.Logger {
	return build(level, file, maxSizeMB, maxBackups)
}

func build(level, file string, maxSizeMB, maxBackups int) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	console := zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleCfg),
		zapcore.Lock(os.Stderr),
		lvl,
	)

	if file == "" {
		return zap.New(console)
	}

	rotating := zapcore.AddSync(&lumberjack.Logger{
		Filename:   file,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	})
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		rotating,
		lvl,
	)

	return zap.New(zapcore.NewTee(console, fileCore))
}
