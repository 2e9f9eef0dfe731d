package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/slackreports/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "slackreports",
		Usage:   "Channel exports, top-replier rankings and thread summaries for Slack",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from `FILE`, overriding the current ones",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			cmd.APICommand(),
			cmd.WorkerCommand(),
			cmd.FetchCommand(),
			cmd.TopRepliersCommand(),
			cmd.SummarizeCommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
