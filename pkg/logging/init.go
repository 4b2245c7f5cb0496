package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	JSON = "json"
	Text = "text"
	Tint = "tint"
)

var (
	mu       sync.Mutex
	handler  slog.Handler
	levelVar slog.LevelVar
)

func Initialize(loggingType string, logLevelName string) error {
	var logLevel slog.Level
	err := logLevel.UnmarshalText([]byte(logLevelName))
	if err != nil {
		return fmt.Errorf("could not parse log level: %v", err)
	}
	levelVar.Set(logLevel)

	var (
		logHandlerOptions = slog.HandlerOptions{
			AddSource: true,
			Level:     &levelVar,
		}
		logHandler slog.Handler
	)

	switch loggingType {
	case JSON:
		logHandler = slog.NewJSONHandler(os.Stdout, &logHandlerOptions)
	case Text:
		logHandler = slog.NewTextHandler(os.Stdout, &logHandlerOptions)
	case Tint:
		logHandler = tint.NewHandler(os.Stdout, &tint.Options{
			AddSource: logHandlerOptions.AddSource,
			Level:     logHandlerOptions.Level,
		})
	default:
		return fmt.Errorf("unknown logging type: %s", loggingType)

	}

	mu.Lock()
	handler = logHandler
	mu.Unlock()

	slog.SetDefault(slog.New(logHandler))
	slog.Info("logging initialized", "logLevel", logLevel)
	return nil
}

// AddOutput duplicates every record logged through the default logger to w
// as plain text, at the level chosen by Initialize.
func AddOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	extra := slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar})
	if handler == nil {
		handler = slog.Default().Handler()
	}
	handler = slogmulti.Fanout(handler, extra)
	slog.SetDefault(slog.New(handler))
}

// MainLog opens the rotating main log under root.
func MainLog(root string) io.WriteCloser {
	return &lumberjack.Logger{
		Filename: filepath.Join(root, "logs", "main", "main_log.log"),
		MaxSize:  10,
		MaxAge:   60,
		Compress: true,
	}
}

// SessionLog creates the log file of a single run under root.
func SessionLog(root string, started time.Time) (*os.File, error) {
	dir := filepath.Join(root, "logs", "session")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating session log folder: %w", err)
	}
	name := filepath.Join(dir, "session_"+started.Format("2006-01-02T150405")+".log")
	f, err := os.Create(name)
	if err != nil {
		return nil, fmt.Errorf("creating session log: %w", err)
	}
	return f, nil
}
