// Command fieldops-mobile drives the offline client from a terminal: it keeps
// the local mirror and pending queue in a sqlite file and syncs them against
// the API on demand.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"fieldops/internal/config"
	"fieldops/internal/logging"
	"fieldops/internal/mobile"
	"fieldops/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const usage = `usage: fieldops-mobile <command> [flags]

commands:
  login -email -password     sign in and print a bearer token
  pull                       drain the queue and refresh every mirror
  read -kind                 print the mirrored records of a kind
  enqueue-lead -name ...     queue a new lead for the next sync
  enqueue-photo -job -url    queue a job photo for the next sync
  sync                       drain the queue only
  pending                    list queued operations
  dead-letters               list operations that stopped retrying
  requeue -id                put a dead letter back in the queue
`

type app struct {
	cfg    config.MobileConfig
	logger *zap.Logger
	db     *sqlx.DB
	queue  *mobile.Queue
	mirror *mobile.SQLiteMirror
	client *mobile.APIClient
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.LoadMobile()
	logger, err := logging.New(cfg.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open client", zap.Error(err))
	}
	defer a.db.Close()

	if err := a.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp(ctx context.Context, cfg config.MobileConfig, logger *zap.Logger) (*app, error) {
	db, err := mobile.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:    cfg,
		logger: logger,
		db:     db,
		queue:  mobile.NewQueue(db, mobile.QueueOptions{MaxAttempts: cfg.QueueMaxAttempts}),
		mirror: mobile.NewMirror(db),
		client: mobile.NewAPIClient(mobile.ClientOptions{
			BaseURL:            cfg.ServerURL,
			Token:              cfg.Token,
			SendIdempotencyKey: cfg.SendIdempotencyKey,
			Timeout:            cfg.HTTPTimeout,
		}),
	}, nil
}

func (a *app) coordinator() *mobile.Coordinator {
	return mobile.NewCoordinator(a.queue, a.mirror, a.client, prometheus.NewRegistry(), a.logger.Named("sync"))
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	switch command {
	case "login":
		email := fs.String("email", "", "account email")
		password := fs.String("password", "", "account password")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *email == "" || *password == "" {
			return errors.New("-email and -password are required")
		}
		token, err := a.client.Login(ctx, *email, *password)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil

	case "pull":
		if err := fs.Parse(args); err != nil {
			return err
		}
		report, err := a.coordinator().SyncNow(ctx)
		if err != nil {
			return err
		}
		return printJSON(report)

	case "sync":
		if err := fs.Parse(args); err != nil {
			return err
		}
		report, err := a.coordinator().Drain(ctx)
		if err != nil {
			return err
		}
		return printJSON(report)

	case "read":
		kind := fs.String("kind", "", "one of "+kindList())
		if err := fs.Parse(args); err != nil {
			return err
		}
		records, err := a.mirror.ReadAll(ctx, models.Kind(*kind))
		if err != nil {
			return err
		}
		return printJSON(records)

	case "enqueue-lead":
		var lead mobile.LeadPayload
		fs.StringVar(&lead.Name, "name", "", "lead name")
		fs.StringVar(&lead.Email, "email", "", "lead email")
		fs.StringVar(&lead.Phone, "phone", "", "lead phone")
		fs.StringVar(&lead.Address, "address", "", "lead address")
		fs.StringVar(&lead.Source, "source", "mobile", "lead source")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if strings.TrimSpace(lead.Name) == "" {
			return errors.New("-name is required")
		}
		op, err := a.queue.Enqueue(ctx, mobile.OpCreateLead, lead)
		if err != nil {
			return err
		}
		return printJSON(op)

	case "enqueue-photo":
		var photo mobile.PhotoPayload
		fs.StringVar(&photo.JobID, "job", "", "job id")
		fs.StringVar(&photo.URL, "url", "", "uploaded photo URL")
		fs.StringVar(&photo.Caption, "caption", "", "caption")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if photo.JobID == "" || photo.URL == "" {
			return errors.New("-job and -url are required")
		}
		op, err := a.queue.Enqueue(ctx, mobile.OpUploadPhoto, photo)
		if err != nil {
			return err
		}
		return printJSON(op)

	case "pending":
		if err := fs.Parse(args); err != nil {
			return err
		}
		ops, err := a.queue.Pending(ctx)
		if err != nil {
			return err
		}
		return printJSON(ops)

	case "dead-letters":
		if err := fs.Parse(args); err != nil {
			return err
		}
		ops, err := a.queue.DeadLetters(ctx)
		if err != nil {
			return err
		}
		return printJSON(ops)

	case "requeue":
		id := fs.Int64("id", 0, "operation id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		op, err := a.queue.Requeue(ctx, *id)
		if err != nil {
			return err
		}
		return printJSON(op)
	}

	fmt.Fprint(os.Stderr, usage)
	return fmt.Errorf("unknown command %q", command)
}

func kindList() string {
	names := make([]string, 0, len(models.Kinds))
	for _, kind := range models.Kinds {
		names = append(names, string(kind))
	}
	return strings.Join(names, ", ")
}

func printJSON(value interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
