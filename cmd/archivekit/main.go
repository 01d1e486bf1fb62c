package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/dev-tams/archivekit/internal/app"
	"github.com/dev-tams/archivekit/internal/config"
	"github.com/dev-tams/archivekit/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cliApp := &cli.App{
		Name:  "archivekit",
		Usage: "move stale table items into archive storage",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "archive and delete items older than archive.max_age, once",
				Flags: commonFlags(),
				Action: func(c *cli.Context) error {
					cfg, logger, err := setup(c)
					if err != nil {
						return err
					}
					defer func() { _ = logger.Sync() }()

					_, err = app.RunArchive(c.Context, cfg, logger)
					return err
				},
			},
			{
				Name:  "daemon",
				Usage: "run archive passes on archive.schedule until interrupted",
				Flags: append(
					commonFlags(),
					&cli.DurationFlag{
						Name:  "run-timeout",
						Usage: "abort a single archive pass after this long (0 disables)",
					},
				),
				Action: func(c *cli.Context) error {
					cfg, logger, err := setup(c)
					if err != nil {
						return err
					}
					defer func() { _ = logger.Sync() }()

					return app.RunDaemon(c.Context, cfg, logger, c.Duration("run-timeout"))
				},
			},
			{
				Name:  "validate",
				Usage: "load and validate the configuration",
				Flags: commonFlags(),
				Action: func(c *cli.Context) error {
					cfg, err := loadValidatedConfig(c.String("config"))
					if err != nil {
						return err
					}
					fmt.Printf("config OK: table=%s region=%s storage=%s\n", cfg.Table.Name, cfg.Table.Region, cfg.Archive.Storage)
					return nil
				},
			},
			{
				Name:  "inspect",
				Usage: "decode a downloaded archive file",
				Flags: append(
					commonFlags(),
					&cli.StringFlag{
						Name:     "from",
						Required: true,
						Usage:    "path to archive file",
					},
					&cli.StringFlag{
						Name:    "password",
						EnvVars: []string{"ARCHIVEKIT_PASSWORD"},
						Usage:   "decryption password (defaults to archive.encryption.password)",
					},
					&cli.BoolFlag{
						Name:  "print",
						Usage: "print the records instead of a summary",
					},
				),
				Action: func(c *cli.Context) error {
					var cfg *config.Config
					if p := c.String("config"); p != "" {
						var err error
						if cfg, err = loadValidatedConfig(p); err != nil {
							return err
						}
					}

					logger, err := logging.New(config.LogConfig{Level: "warn", Format: "console"}, c.Bool("verbose"))
					if err != nil {
						return err
					}
					defer func() { _ = logger.Sync() }()

					_, err = app.RunInspect(c.Context, cfg, app.InspectOptions{
						From:     c.String("from"),
						Password: c.String("password"),
						Print:    c.Bool("print"),
						Out:      os.Stdout,
					}, logger)
					return err
				},
			},
		},
	}

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			EnvVars: []string{"ARCHIVEKIT_CONFIG"},
			Usage:   "path to config yaml (optional; environment only when empty)",
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable debug logging",
		},
	}
}

func setup(c *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := loadValidatedConfig(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log, c.Bool("verbose"))
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func loadValidatedConfig(cfgPath string) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
