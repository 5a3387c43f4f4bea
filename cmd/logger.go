package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger builds the process logger from --log-level and --log-file.
// Without a log file it writes to stderr; stdout may carry the protocol.
func newLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	return buildLogger(level, viper.GetString("log-file"), os.Stderr), nil
}

func buildLogger(level zapcore.Level, file string, stderr io.Writer) *zap.Logger {
	var (
		ws      zapcore.WriteSyncer
		encoder zapcore.Encoder
	)
	if file != "" {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   file,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		})
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		ws = zapcore.Lock(zapcore.AddSync(stderr))
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	core := zapcore.NewCore(encoder, ws, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}
