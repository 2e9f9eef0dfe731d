package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/slackreports/internal/aggregate"
	"github.com/slackreports/internal/chunker"
	"github.com/slackreports/internal/logging"
	"github.com/slackreports/internal/taskstore"
	"github.com/slackreports/internal/tasks"
	"github.com/slackreports/pkg/models"
)

func rangeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "channel", Usage: "Channel id", Required: true},
		&cli.StringFlag{Name: "start", Usage: "First day, YYYY-MM-DD", Required: true},
		&cli.StringFlag{Name: "end", Usage: "Last day (inclusive), YYYY-MM-DD", Required: true},
		outputFlag(),
	}
}

func outputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Write the JSON result to `FILE` instead of stdout",
	}
}

// FetchCommand exports the messages of a channel over a date range
func FetchCommand() *cli.Command {
	return &cli.Command{
		Name:   "fetch",
		Usage:  "Export channel messages with their threads",
		Flags:  rangeFlags(),
		Action: runFetch,
	}
}

// TopRepliersCommand ranks the most active thread repliers of a channel
func TopRepliersCommand() *cli.Command {
	return &cli.Command{
		Name:  "top-repliers",
		Usage: "Rank the authors who reply most in threads",
		Flags: append(rangeFlags(), &cli.StringFlag{
			Name:  "top",
			Usage: "Number of authors to return",
			Value: "10",
		}),
		Action: runTopRepliers,
	}
}

// SummarizeCommand summarizes a thread with an LLM
func SummarizeCommand() *cli.Command {
	return &cli.Command{
		Name:  "summarize",
		Usage: "Summarize a thread",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "channel", Usage: "Channel id", Required: true},
			&cli.StringFlag{Name: "thread", Usage: "Timestamp of the thread's parent message", Required: true},
			&cli.StringFlag{Name: "model", Usage: "LLM provider: openai or ollama (default from config)"},
			outputFlag(),
		},
		Action: runSummarize,
	}
}

func runFetch(c *cli.Context) error {
	start, end, err := chunker.ParseRange(c.String("start"), c.String("end"))
	if err != nil {
		return err
	}
	return runOnce(c, models.KindFetchMessages, func(ctx context.Context, runner *tasks.Runner, sink tasks.ProgressSink) (any, error) {
		return runner.RunFetch(ctx, c.String("channel"), start, end, sink)
	})
}

func runTopRepliers(c *cli.Context) error {
	start, end, err := chunker.ParseRange(c.String("start"), c.String("end"))
	if err != nil {
		return err
	}
	topN := aggregate.ValidateTopN(c.String("top"))
	return runOnce(c, models.KindTopRepliers, func(ctx context.Context, runner *tasks.Runner, sink tasks.ProgressSink) (any, error) {
		return runner.RunAggregate(ctx, c.String("channel"), start, end, topN, sink)
	})
}

func runSummarize(c *cli.Context) error {
	return runOnce(c, models.KindSummarizeThread, func(ctx context.Context, runner *tasks.Runner, _ tasks.ProgressSink) (any, error) {
		return runner.RunSummary(ctx, c.String("channel"), c.String("thread"), c.String("model"))
	})
}

// runOnce runs a task synchronously against an in-memory store and writes its result
func runOnce(c *cli.Context, kind models.TaskKind, fn func(context.Context, *tasks.Runner, tasks.ProgressSink) (any, error)) error {
	cfg, flush, err := setup(c, false)
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signalContext()
	defer stop()

	store := taskstore.NewMemory()
	id, err := store.Create(ctx, kind)
	if err != nil {
		return err
	}

	tl, err := logging.ForTaskWithFile(cfg.Log.TaskDir, id, kind)
	if err != nil {
		return err
	}
	defer tl.Close()
	ctx = tl.WithContext(ctx)

	runner := newRunner(cfg)
	err = tasks.Execute(ctx, store, id, func(ctx context.Context, sink tasks.ProgressSink) (any, error) {
		return fn(ctx, runner, sink)
	})
	if err != nil {
		return err
	}

	status, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	return writeResult(c.String("output"), status.Result)
}

func writeResult(path string, result any) error {
	var out io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	if path != "" {
		log.Info().Str("path", path).Msg("Result written")
	}
	return nil
}
