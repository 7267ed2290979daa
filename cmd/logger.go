package main

import (
	"io"
	"os"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gogogo1024/custody-ledger/conf"
)

// initLogger hlog 与 zap 共用同一个滚动文件，dev/test 环境同时输出到终端
func initLogger(c *conf.Config) (*zap.Logger, func()) {
	rotate := &lumberjack.Logger{
		Filename:   c.Hertz.LogFileName,
		MaxSize:    c.Hertz.LogMaxSize,
		MaxBackups: c.Hertz.LogMaxBackups,
		MaxAge:     c.Hertz.LogMaxAge,
	}
	var out io.Writer = rotate
	if c.Env != "online" {
		out = io.MultiWriter(rotate, os.Stdout)
	}
	buffered := &zapcore.BufferedWriteSyncer{
		WS:            zapcore.AddSync(out),
		FlushInterval: time.Minute,
	}

	hlog.SetOutput(buffered)
	hlog.SetLevel(conf.LogLevel())

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), buffered, zapLevel(conf.LogLevel()))
	logger := zap.New(core, zap.AddCaller()).With(zap.String("service", c.Hertz.Service))

	return logger, func() {
		_ = logger.Sync()
		_ = buffered.Stop()
		_ = rotate.Close()
	}
}

func zapLevel(l hlog.Level) zapcore.Level {
	switch l {
	case hlog.LevelTrace, hlog.LevelDebug:
		return zapcore.DebugLevel
	case hlog.LevelWarn:
		return zapcore.WarnLevel
	case hlog.LevelError:
		return zapcore.ErrorLevel
	case hlog.LevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
