// Package logging configures zerolog for the process and builds per-task loggers
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/slackreports/pkg/models"
)

// output is where the global logger writes; task log files tee from it
var output io.Writer = os.Stderr

// Setup configures the global logger. An unknown level falls back to info.
func Setup(level string, pretty bool) {
	SetupWriter(os.Stderr, level, pretty)
}

// SetupWriter is Setup with an explicit output
func SetupWriter(w io.Writer, level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}
	output = w
	log.Logger = zerolog.New(w).With().Timestamp().Logger()

	// Code that only has a context still logs through the global logger.
	zerolog.DefaultContextLogger = &log.Logger
}

// TaskLogger is the logger of one task run, optionally mirrored to its own file
type TaskLogger struct {
	zerolog.Logger

	mu   sync.Mutex
	file *os.File
}

// ForTask returns a child of the global logger carrying the task fields
func ForTask(taskID string, kind models.TaskKind) *TaskLogger {
	return &TaskLogger{Logger: log.With().Str("task_id", taskID).Str("task", string(kind)).Logger()}
}

// ForTaskWithFile is ForTask that also writes JSON lines to
// dir/task_<id>_<timestamp>.log. An empty dir disables the file.
func ForTaskWithFile(dir, taskID string, kind models.TaskKind) (*TaskLogger, error) {
	if dir == "" {
		return ForTask(taskID, kind), nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	name := fmt.Sprintf("task_%s_%s.log", taskID, time.Now().Format("20060102_150405"))
	file, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	out := zerolog.MultiLevelWriter(output, file)
	logger := zerolog.New(out).With().
		Timestamp().
		Str("task_id", taskID).
		Str("task", string(kind)).
		Logger()
	return &TaskLogger{Logger: logger, file: file}, nil
}

// WithContext attaches the task logger so zerolog.Ctx finds it
func (t *TaskLogger) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(ctx)
}

// Path returns the task log file, or "" when there is none
func (t *TaskLogger) Path() string {
	if t == nil || t.file == nil {
		return ""
	}
	return t.file.Name()
}

// Close flushes and closes the task log file, if any
func (t *TaskLogger) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return nil
	}
	_ = t.file.Sync()
	err := t.file.Close()
	t.file = nil
	return err
}
