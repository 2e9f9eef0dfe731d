package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/slackreports/internal/config"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "slackreports.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:  "validate",
				Usage: "Validate the configuration file",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "queue",
						Usage: "Also require the settings of the api and worker commands",
					},
				},
				Action: runConfigValidate,
			},
			{
				Name:   "check",
				Usage:  "Show which settings are present, with secrets masked",
				Action: runConfigCheck,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	cfg, err := loadForCheck(c)
	if err != nil {
		return err
	}

	validate := config.Validate
	if c.Bool("queue") {
		validate = config.ValidateQueue
	}
	if err := validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Println("Configuration is valid")
	return nil
}

func runConfigCheck(c *cli.Context) error {
	cfg, err := loadForCheck(c)
	if err != nil {
		return err
	}
	PrintConfigCheck(CheckRequiredConfig(cfg))
	return nil
}

func loadForCheck(c *cli.Context) (*config.Config, error) {
	if envFile := c.String("env-file"); envFile != "" {
		if err := loadEnvFile(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
