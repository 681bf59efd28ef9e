// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/poiesic/contractor"
	"github.com/poiesic/contractor/config"
	"github.com/urfave/cli/v2"
)

const (
	metaConfig    = "config"
	metaDBOptions = "db-options"
	metaLogFile   = "log-file"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "contractor",
		Usage: "Contract ingestion, semantic search and field extraction",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file; environment variables override it",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error), overrides LOG_LEVEL",
			},
		},
		Before: setup,
		After:  teardown,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address, overrides HTTP_ADDR",
					},
				},
			},
			{
				Name:      "ingest",
				Usage:     "Ingest contracts from a directory or manifest",
				ArgsUsage: "[dir]",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "manifest",
						Aliases: []string{"m"},
						Usage:   "CSV manifest with 'File Name' and 'Text' columns",
					},
				},
			},
			{
				Name:   "populate",
				Usage:  "Ingest the configured corpus unless the index already has entries",
				Action: populateCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Reset the index and ingest everything again",
					},
				},
			},
			{
				Name:      "query",
				Usage:     "Search indexed contracts",
				ArgsUsage: "<text>",
				Action:    queryCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Maximum results, defaults to TOP_K_DEFAULT",
					},
					&cli.Float64Flag{
						Name:  "min-score",
						Usage: "Minimum normalised score in [0,1]",
					},
					&cli.StringSliceFlag{
						Name:  "doc",
						Usage: "Restrict results to these document ids",
					},
					&cli.IntFlag{
						Name:  "neighbors",
						Usage: "Adjacent chunks to show with each hit",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print results as JSON",
					},
				},
			},
			{
				Name:      "extract",
				Usage:     "Extract contract fields from a file, or stdin when no file is given",
				ArgsUsage: "[file]",
				Action:    extractCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-rag",
						Usage: "Do not include similar contracts in the prompt",
					},
				},
			},
			{
				Name:      "status",
				Usage:     "Show index statistics, or one document's record",
				ArgsUsage: "[document-id]",
				Action:    statusCommand,
			},
			{
				Name:      "delete",
				Usage:     "Remove a document and its chunks",
				ArgsUsage: "<document-id>",
				Action:    deleteCommand,
			},
			{
				Name:   "reset",
				Usage:  "Remove every document and index entry",
				Action: resetCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "yes",
						Usage: "Confirm the reset",
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Re-embed every index entry with the configured embedding model",
				Action: reembedCommand,
			},
		},
	}
}

// setup loads the config and installs the default logger.
func setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}

	if c.App.Metadata == nil {
		c.App.Metadata = map[string]any{}
	}
	var out io.Writer = c.App.ErrWriter
	if out == nil {
		out = os.Stderr
	}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		c.App.Metadata[metaLogFile] = f
		out = io.MultiWriter(out, f)
	}
	logger, err := newLogger(out, cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	c.App.Metadata[metaConfig] = cfg
	return nil
}

func teardown(c *cli.Context) error {
	if f, ok := c.App.Metadata[metaLogFile].(*os.File); ok {
		return f.Close()
	}
	return nil
}

func newLogger(w io.Writer, levelStr string) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

func loadedConfig(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[metaConfig].(*config.Config); ok {
		return cfg
	}
	return config.Default()
}

func openDatabase(c *cli.Context, cfg *config.Config) (*contractor.Database, error) {
	opts := []contractor.DatabaseOption{contractor.WithLogger(slog.Default())}
	if extra, ok := c.App.Metadata[metaDBOptions].([]contractor.DatabaseOption); ok {
		opts = append(opts, extra...)
	}
	db, err := contractor.NewDatabase(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}
