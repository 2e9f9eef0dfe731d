package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/slackreports/internal/api"
	"github.com/slackreports/internal/config"
	"github.com/slackreports/internal/database"
	"github.com/slackreports/internal/jobqueue"
	"github.com/slackreports/internal/taskstore"
	"github.com/slackreports/internal/tasks"
)

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the API server, with in-process workers unless --no-workers is set",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (default from config)",
			},
			&cli.BoolFlag{
				Name:  "no-workers",
				Usage: "Only queue tasks; run workers with the worker command",
			},
		},
		Action: runAPI,
	}
}

// WorkerCommand returns the CLI command for running queue workers only
func WorkerCommand() *cli.Command {
	return &cli.Command{
		Name:   "worker",
		Usage:  "Run report task workers",
		Action: runWorker,
	}
}

// queueEnv is the Postgres-backed state shared by api and worker
type queueEnv struct {
	store *taskstore.Postgres
	queue *jobqueue.JobQueue
	close func()
}

func openQueue(ctx context.Context, cfg *config.Config, runner *tasks.Runner) (*queueEnv, error) {
	pool, err := database.Open(ctx, cfg.Queue.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, pool, taskstore.Schema); err != nil {
		pool.Close()
		return nil, err
	}

	store := taskstore.NewPostgres(pool)
	queue, err := jobqueue.NewJobQueue(pool, store, runner, jobqueue.QueueConfigFrom(cfg))
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &queueEnv{store: store, queue: queue, close: pool.Close}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runAPI(c *cli.Context) error {
	cfg, flush, err := setup(c, true)
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signalContext()
	defer stop()

	var runner *tasks.Runner
	if !c.Bool("no-workers") {
		runner = newRunner(cfg)
	}
	env, err := openQueue(ctx, cfg, runner)
	if err != nil {
		return err
	}
	defer env.close()

	if runner != nil {
		if err := env.queue.Start(ctx); err != nil {
			return fmt.Errorf("failed to start workers: %w", err)
		}
		defer func() {
			if err := env.queue.Stop(context.Background()); err != nil {
				log.Error().Err(err).Msg("Failed to stop workers")
			}
		}()
	}

	port := cfg.Server.Port
	if p := c.Int("port"); p > 0 {
		port = p
	}
	return api.NewServer(port, env.queue, env.store).Start(ctx)
}

func runWorker(c *cli.Context) error {
	cfg, flush, err := setup(c, true)
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signalContext()
	defer stop()

	env, err := openQueue(ctx, cfg, newRunner(cfg))
	if err != nil {
		return err
	}
	defer env.close()

	if err := env.queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	log.Info().Int("max_workers", cfg.Queue.MaxWorkers).Msg("Workers running")

	<-ctx.Done()
	log.Info().Msg("Stopping workers")
	return env.queue.Stop(context.Background())
}
