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
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/poiesic/blueprint"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// cliApp carries options applied to every database the commands open.
type cliApp struct {
	dbOpts []blueprint.DatabaseOption
}

func newApp(dbOpts ...blueprint.DatabaseOption) *cli.App {
	a := &cliApp{dbOpts: dbOpts}

	jobArg := "<job-id>"
	entityArgs := "<kind> <entity-id>"

	return &cli.App{
		Name:  "blueprint",
		Usage: "Construction document ingestion, extraction and retrieval",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"BLUEPRINT_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
				Value:   "blueprint.yaml",
				EnvVars: []string{"BLUEPRINT_CONFIG"},
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "Load environment variables from `FILE` (default .env)",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:   "submit",
				Usage:  "Store a document and queue a processing job",
				Flags:  documentFlags(),
				Action: a.submit,
			},
			{
				Name:  "process",
				Usage: "Submit a document and process it to completion in the foreground",
				Flags: append(documentFlags(),
					&cli.DurationFlag{
						Name:  "report-interval",
						Usage: "Minimum time between progress reports",
						Value: time.Second,
					},
				),
				Action: a.process,
			},
			{
				Name:   "run",
				Usage:  "Run a worker that starts queued jobs until interrupted",
				Action: a.run,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "max-active",
						Usage: "Maximum concurrently running jobs (0 uses the configuration)",
					},
					&cli.DurationFlag{
						Name:  "poll-interval",
						Usage: "Queue poll interval (0 uses the configuration)",
					},
				},
			},
			{
				Name:      "status",
				Usage:     "Show a job, or list the jobs of a project or document",
				ArgsUsage: "[job-id]",
				Action:    a.status,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "project", Usage: "List jobs of a project"},
					&cli.StringFlag{Name: "document", Usage: "List jobs of a document"},
					&cli.StringSliceFlag{Name: "status", Usage: "Only list jobs with this status"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum jobs listed"},
				},
			},
			{
				Name:      "events",
				Usage:     "Print the progress event log of a job",
				ArgsUsage: jobArg,
				Action:    a.events,
			},
			{
				Name:      "pause",
				Usage:     "Pause a running job",
				ArgsUsage: jobArg,
				Action:    a.pause,
			},
			{
				Name:      "resume",
				Usage:     "Resume a paused job and process it in the foreground",
				ArgsUsage: jobArg,
				Action:    a.resume,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a job",
				ArgsUsage: jobArg,
				Action:    a.cancel,
			},
			{
				Name:      "ask",
				Usage:     "Answer a question from the documents of a project",
				ArgsUsage: "<question>",
				Action:    a.ask,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Project to search", Required: true},
					&cli.StringFlag{Name: "document", Usage: "Restrict retrieval to one document"},
					&cli.IntFlag{Name: "top-k", Usage: "Chunks to retrieve (0 uses the configuration)"},
				},
			},
			{
				Name:      "summarize",
				Usage:     "Summarize the project described by a stored document",
				ArgsUsage: "<document-id>",
				Action:    a.summarize,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "instructions", Usage: "Extra guidance for the summary"},
				},
			},
			{
				Name:  "entities",
				Usage: "Review extracted entities",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List entities, lowest confidence first",
						Action: a.entitiesList,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Project of the entities"},
							&cli.StringFlag{Name: "kind", Usage: "material, room, trade_scope or milestone"},
							&cli.StringFlag{Name: "document", Usage: "Source document"},
							&cli.StringFlag{Name: "state", Usage: "pending_review, verified or rejected"},
							&cli.BoolFlag{Name: "priority", Usage: "Only entities flagged for priority review"},
							&cli.IntFlag{Name: "limit", Usage: "Maximum entities listed"},
						},
					},
					{
						Name:      "verify",
						Usage:     "Mark an entity verified",
						ArgsUsage: entityArgs,
						Action:    a.entitiesVerify,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "by", Usage: "Reviewer", Required: true},
						},
					},
					{
						Name:      "reject",
						Usage:     "Reject an entity",
						ArgsUsage: entityArgs,
						Action:    a.entitiesReject,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "by", Usage: "Reviewer", Required: true},
							&cli.StringFlag{Name: "reason", Usage: "Why the entity is wrong"},
						},
					},
					{
						Name:      "reopen",
						Usage:     "Return an entity to pending review",
						ArgsUsage: entityArgs,
						Action:    a.entitiesReopen,
					},
					{
						Name:   "summary",
						Usage:  "Count entities of a project by kind",
						Action: a.entitiesSummary,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Project to summarize", Required: true},
						},
					},
				},
			},
			{
				Name:  "dlq",
				Usage: "Inspect and requeue permanently failed jobs",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List dead-letter entries",
						Action: a.dlqList,
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "all", Usage: "Include processed entries"},
							&cli.IntFlag{Name: "limit", Usage: "Maximum entries listed"},
						},
					},
					{
						Name:      "requeue",
						Usage:     "Queue a new job for the document of an entry",
						ArgsUsage: "<entry-id>",
						Action:    a.dlqRequeue,
					},
					{
						Name:   "purge",
						Usage:  "Remove processed entries",
						Action: a.dlqPurge,
						Flags: []cli.Flag{
							&cli.DurationFlag{Name: "older-than", Usage: "Only entries older than this", Value: 7 * 24 * time.Hour},
						},
					},
				},
			},
			{
				Name:   "reindex",
				Usage:  "Rebuild the approximate nearest neighbour index",
				Action: a.reindex,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "lists", Usage: "Number of inverted lists (0 uses the configuration)"},
				},
			},
			{
				Name:      "delete-document",
				Usage:     "Delete a document with its jobs and chunks; entities are kept",
				ArgsUsage: "<document-id>",
				Action:    a.deleteDocument,
			},
			{
				Name:      "delete-project",
				Usage:     "Delete every document, job, chunk and entity of a project",
				ArgsUsage: "<project-id>",
				Action:    a.deleteProject,
			},
			{
				Name:  "config",
				Usage: "Inspect the configuration",
				Subcommands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Print the effective configuration",
						Action: a.configShow,
					},
					{
						Name:      "init",
						Usage:     "Write the default configuration to a file",
						ArgsUsage: "[path]",
						Action:    a.configInit,
					},
				},
			},
		},
	}
}

func documentFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "file",
			Aliases:  []string{"f"},
			Usage:    "Document to submit: JSON with pages, or text with pages separated by form feeds",
			Required: true,
		},
		&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Project id (overrides the JSON document)"},
		&cli.StringFlag{Name: "id", Usage: "Document id (default: from the JSON document, else random)"},
		&cli.StringFlag{Name: "title", Usage: "Document title"},
	}
}

func setup(c *cli.Context) error {
	if err := setupLogger(c); err != nil {
		return err
	}
	return loadEnv(c)
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
