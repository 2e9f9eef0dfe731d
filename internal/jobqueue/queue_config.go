/*
Package jobqueue configuration - tunable parameters for the River job queue.

## Quick Configuration Reference:

- MaxWorkers bounds how many report tasks run at once. Each task paces its own
  upstream calls, so more workers means more concurrent chat API traffic.
- JobTimeout bounds a single task run. Long date ranges of busy channels need
  more time; a task that hits the timeout is recorded as FAILURE.
- TaskLogDir, when set, gives every task its own log file.

Jobs are inserted with MaxAttempts 1 and failed jobs are cancelled: a failed
report is final and the caller starts a new task to try again.
*/
package jobqueue

import (
	"time"

	"github.com/riverqueue/river"

	"github.com/slackreports/internal/config"
)

// QueueConfig holds the worker settings
type QueueConfig struct {
	MaxWorkers int           // Number of concurrent workers processing jobs (default: 10)
	JobTimeout time.Duration // Maximum time a single task can run (default: 30 minutes)
	TaskLogDir string        // Optional directory for per-task log files
}

// DefaultQueueConfig returns the default queue configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers: 10,
		JobTimeout: 30 * time.Minute,
	}
}

// QueueConfigFrom builds the queue configuration from the application config
func QueueConfigFrom(cfg *config.Config) *QueueConfig {
	c := DefaultQueueConfig()
	if cfg.Queue.MaxWorkers > 0 {
		c.MaxWorkers = cfg.Queue.MaxWorkers
	}
	if cfg.Queue.JobTimeout > 0 {
		c.JobTimeout = cfg.Queue.JobTimeout
	}
	c.TaskLogDir = cfg.Log.TaskDir
	return c
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
