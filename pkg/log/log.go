package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	log = zerolog.New(io.Discard)
)

func Logging(ctx context.Context) (context.Context, func(), error) {
	cleanup := func() {}
	logDir := os.Getenv("IGDC_LOG_DIR")
	if logDir == "" {
		if cacheDir, _ := os.UserCacheDir(); cacheDir != "" {
			logDir = filepath.Join(cacheDir, "igdc")
			if err := os.Mkdir(logDir, os.ModeDir|0700); err != nil {
				if !os.IsExist(err) {
					logDir = ""
				}
			}
		}
	}

	var output io.Writer
	if logDir != "" {
		logFile := &lumberjack.Logger{
			Filename:   filepath.Join(logDir, "igdc.log"),
			MaxSize:    10,
			MaxBackups: 3,
		}
		output = logFile
		cleanup = func() {
			logFile.Close()
		}
	} else {
		output = io.Discard
	}

	if os.Getenv("IGDC_LOG_STDERR") != "" {
		output = os.Stderr
	}

	var (
		levelString = os.Getenv("IGDC_LOG_LEVEL")
		level       = zerolog.InfoLevel
		err         error
	)
	if levelString != "" {
		level, err = zerolog.ParseLevel(levelString)
		if err != nil {
			return ctx, cleanup, fmt.Errorf("unable to parse log level from IGDC_LOG_LEVEL: %s", err.Error())
		}
	}

	logContext := zerolog.New(output).
		Level(level).
		With().
		Timestamp()
	if level == zerolog.DebugLevel {
		logContext = logContext.
			Stack().
			Caller()
	}

	log = logContext.Logger()

	ctx = log.WithContext(ctx)
	return ctx, cleanup, nil
}

func Logger() *zerolog.Logger {
	return &log
}
