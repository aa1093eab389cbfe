package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/blueprint"
	"github.com/poiesic/blueprint/config"
	"github.com/poiesic/blueprint/core"
	"github.com/poiesic/blueprint/ingestion"
	"github.com/poiesic/blueprint/qa"
	"github.com/poiesic/blueprint/storage"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

func loadEnv(c *cli.Context) error {
	return config.LoadEnvFiles(c.StringSlice("env-file")...)
}

func (a *cliApp) open(c *cli.Context, opts ...blueprint.DatabaseOption) (*blueprint.Database, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	opts = append(append([]blueprint.DatabaseOption{}, a.dbOpts...), opts...)
	db, err := blueprint.NewDatabase(c.Context, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func argument(c *cli.Context, name string) (string, error) {
	v := strings.TrimSpace(c.Args().First())
	if v == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return v, nil
}

func (a *cliApp) submit(c *cli.Context) error {
	doc, err := readDocument(c)
	if err != nil {
		return err
	}
	db, err := a.open(c)
	if err != nil {
		return err
	}
	defer db.Close()

	job, err := db.Orchestrator().Submit(c.Context, doc)
	if err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}
	return printJSON(c, job)
}

func (a *cliApp) process(c *cli.Context) error {
	doc, err := readDocument(c)
	if err != nil {
		return err
	}
	printer := ingestion.NewProgressPrinter(c.App.ErrWriter, c.Duration("report-interval"))
	db, err := a.open(c, blueprint.WithIngestionOptions(ingestion.WithObserver(printer.Observe)))
	if err != nil {
		return err
	}
	defer db.Close()

	orch := db.Orchestrator()
	job, err := orch.Submit(c.Context, doc)
	if err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}
	if _, err := orch.Start(c.Context, job.ID); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	return follow(c, db, job.ID)
}

// follow waits for a job started in this process. An interrupt pauses it.
func follow(c *cli.Context, db *blueprint.Database, jobID string) error {
	orch := db.Orchestrator()
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	job, err := orch.Wait(ctx, jobID)
	if err != nil {
		if ctx.Err() == nil {
			return err
		}
		fmt.Fprintln(c.App.ErrWriter, "\ninterrupted, pausing job")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), db.Config().Pipeline.CancelGrace)
		defer cancel()
		if err := orch.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if job, err = orch.Get(context.Background(), jobID); err != nil {
			return err
		}
	}
	if err := printJSON(c, job); err != nil {
		return err
	}
	if job.Status == core.JobFailed {
		return fmt.Errorf("job %s failed at %s: %s", job.ID, job.ErrorStep, job.ErrorMessage)
	}
	return nil
}

func (a *cliApp) run(c *cli.Context) error {
	db, err := a.open(c)
	if err != nil {
		return err
	}
	defer db.Close()

	orch := db.Orchestrator()
	recovered, err := orch.Recover(c.Context)
	if err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}
	if recovered > 0 {
		fmt.Fprintf(c.App.ErrWriter, "Recovered %d interrupted jobs\n", recovered)
	}

	var opts []ingestion.DispatcherOption
	if n := c.Int("max-active"); n > 0 {
		opts = append(opts, ingestion.WithMaxActive(n))
	}
	if d := c.Duration("poll-interval"); d > 0 {
		opts = append(opts, ingestion.WithPollInterval(d))
	}
	dispatcher, err := db.NewDispatcher(opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	fmt.Fprintln(c.App.ErrWriter, "Worker started; press Ctrl-C to stop")
	if err := dispatcher.Run(ctx); err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), db.Config().Pipeline.CancelGrace)
	defer cancel()
	return orch.Shutdown(shutdownCtx)
}

func (a *cliApp) status(c *cli.Context) error {
	db, err := a.open(c)
	if err != nil {
		return err
	}
	defer db.Close()

	if id := c.Args().First(); id != "" {
		job, err := db.Orchestrator().Get(c.Context, id)
		if err != nil {
			return err
		}
		return printJSON(c, job)
	}

	q := storage.JobQuery{
		ProjectID:  c.String("project"),
		DocumentID: c.String("document"),
		Limit:      c.Int("limit"),
	}
	for _, s := range c.StringSlice("status") {
		status := core.JobStatus(strings.ToLower(s))
		if !status.Valid() {
			return fmt.Errorf("unknown job status %q", s)
		}
		q.Statuses = append(q.Statuses, status)
	}
	jobs, err := db.Orchestrator().List(c.Context, q)
	if err != nil {
		return err
	}
	return printJSON(c, jobs)
}

func (a *cliApp) events(c *cli.Context) error {
	id, err := argument(c, "job id")
	if err != nil {
		return err
	}
	db, err := a.open(c)
	if err != nil {
		return err
	}
	defer db.Close()

	events, err := db.Orchestrator().Events(c.Context, id)
	if err != nil {
		return err
	}
	return printJSON(c, events)
}

func (a *cliApp) pause(c *cli.Context) error {
	return a.jobAction(c, (*ingestion.Orchestrator).Pause)
}

func (a *cliApp) cancel(c *cli.Context) error {
	return a.jobAction(c, (*ingestion.Orchestrator).Cancel)
}

func (a *cliApp) jobAction(c *cli.Context, fn func(*ingestion.Orchestrator, context.Context, string) (*core.ProcessingJob, error)) error {
	id, err := argument(c, "job id")
	if err != nil {
		return err
	}
	db, err := a.open(c)
	if err != nil {
		return err
	}
	defer db.Close()

	orch := db.Orchestrator()
	job, err := fn(orch, c.Context, id)
	if err != nil {
		return err
	}
	// A cancel of a job live in this process settles when its loop exits.
	if job, err = orch.Wait(c.Context, id); err != nil {
		return err
	}
	return printJSON(c, job)
}

func (a *cliApp) resume(c *cli.Context) error {
	id, err := argument(c, "job id")
	if err != nil {
		return err
	}
	printer := ingestion.NewProgressPrinter(c.App.ErrWriter, time.Second)
	db, err := a.open(c, blueprint.WithIngestionOptions(ingestion.WithObserver(printer.Observe)))
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Orchestrator().Resume(c.Context, id); err != nil {
		return err
	}
	return follow(c, db, id)
}

func (a *cliApp) ask(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return errors.New("question is required")
	}
	db, err := a.open(c)
	if err != nil {
		return err
	}
	defer db.Close()

	answer, err := db.QA().Ask(c.Context, qa.Request{
		ProjectID:  c.String("project"),
		DocumentID: c.String("document"),
		Question:   question,
		TopK:       c.Int("top-k"),
	})
	if err != nil {
		return err
	}
	return printJSON(c, answer)
}

func (a *cliApp) summarize(c *cli.Context) error {
	documentID, err := argument(c, "document id")
	if err != nil {
		return err
	}
	db, err := a.open(c)
	if err != nil {
		return err
	}
	defer db.Close()

	summary, err := db.SummarizeDocument(c.Context, documentID, c.String("instructions"))
	if err != nil {
		return err
	}
	return printJSON(c, summary)
}

func entityTarget(c *cli.Context) (core.EntityKind, string, error) {
	if c.NArg() < 2 {
		return "", "", errors.New("entity kind and id are required")
	}
	kind, err := core.ParseEntityKind(c.Args().Get(0))
	if err != nil {
		return "", "", err
	}
	return kind, c.Args().Get(1), nil
}

func (a *cliApp) entitiesList(c *cli.Context) error {
	q := storage.EntityQuery{
		ProjectID:    c.String("project"),
		DocumentID:   c.String("document"),
		State:        core.ReviewState(c.String("state")),
		PriorityOnly: c.Bool("priority"),
		Limit:        c.Int("limit"),
	}
	if k := c.String("kind"); k != "" {
		kind, err := core.ParseEntityKind(k)
		if err != nil {
			return err
		}
		q.Kind = kind
	}
	db, err := a.open(c)
	if err != nil {
		return err
	}
	defer db.Close()

	entities, err := db.Extraction().List(c.Context, q)
	if err != nil {
		return err
	}
	return printJSON(c, entities)
}

func (a *cliApp) entitiesVerify(c *cli.Context) error {
	kind, id, err := entityTarget(c)
	if err != nil {
		return err
	}
	return a.review(c, func(db *blueprint.Database) (core.Entity, error) {
		return db.Extraction().Verify(c.Context, kind, id, c.String("by"))
	})
}

func (a *cliApp) entitiesReject(c *cli.Context) error {
	kind, id, err := entityTarget(c)
	if err != nil {
		return err
	}
	return a.review(c, func(db *blueprint.Database) (core.Entity, error) {
		return db.Extraction().Reject(c.Context, kind, id, c.String("by"), c.String("reason"))
	})
}

func (a *cliApp) entitiesReopen(c *cli.Context) error {
	kind, id, err := entityTarget(c)
	if err != nil {
		return err
	}
	return a.review(c, func(db *blueprint.Database) (core.Entity, error) {
		return db.Extraction().Reopen(c.Context, kind, id)
	})
}

func (a *cliApp) review(c *cli.Context, fn func(*blueprint.Database) (core.Entity, error)) error {
	db, err := a.open(c)
	if err != nil {
		return err
	}
	defer db.Close()

	entity, err := fn(db)
	if err != nil {
		return err
	}
	return printJSON(c, entity)
}

func (a *cliApp) entitiesSummary(c *cli.Context) error {
	db, err := a.open(c)
	if err != nil {
		return err
	}
	defer db.Close()

	summary, err := db.Extraction().Summary(c.Context, c.String("project"))
	if err != nil {
		return err
	}
	return printJSON(c, summary)
}

func (a *cliApp) dlqList(c *cli.Context) error {
	db, err := a.open(c)
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := db.Orchestrator().DeadLetters(c.Context, c.Bool("all"), c.Int("limit"))
	if err != nil {
		return err
	}
	return printJSON(c, entries)
}

func (a *cliApp) dlqRequeue(c *cli.Context) error {
	id, err := argument(c, "entry id")
	if err != nil {
		return err
	}
	db, err := a.open(c)
	if err != nil {
		return err
	}
	defer db.Close()

	job, err := db.Orchestrator().Requeue(c.Context, id)
	if err != nil {
		return err
	}
	return printJSON(c, job)
}

func (a *cliApp) dlqPurge(c *cli.Context) error {
	db, err := a.open(c)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := db.Orchestrator().PurgeDeadLetters(c.Context, time.Now().Add(-c.Duration("older-than")))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Purged %d entries\n", n)
	return nil
}

func (a *cliApp) reindex(c *cli.Context) error {
	db, err := a.open(c)
	if err != nil {
		return err
	}
	defer db.Close()

	start := time.Now()
	if err := db.Reindex(c.Context, c.Int("lists")); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Index rebuilt in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func (a *cliApp) deleteDocument(c *cli.Context) error {
	id, err := argument(c, "document id")
	if err != nil {
		return err
	}
	db, err := a.open(c)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Orchestrator().DeleteDocument(c.Context, id); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Deleted document %s\n", id)
	return nil
}

func (a *cliApp) deleteProject(c *cli.Context) error {
	id, err := argument(c, "project id")
	if err != nil {
		return err
	}
	db, err := a.open(c)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Orchestrator().DeleteProject(c.Context, id); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Deleted project %s\n", id)
	return nil
}

func (a *cliApp) configShow(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(c.App.Writer)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}

func (a *cliApp) configInit(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		path = c.String("config")
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.Save(path, config.Default()); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Wrote %s\n", path)
	return nil
}
