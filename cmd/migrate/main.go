// Command migrate накатывает, откатывает и показывает миграции схемы shop-service.
//
//	migrate [-dsn=...] [-steps=N] [-timeout=30s] up|down|status
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/storage/postgres"
	"github.com/vladislavdragonenkov/shopcore/internal/version"
)

const envPostgresDSN = "SHOP_POSTGRES_DSN"

type command string

const (
	cmdUp     command = "up"
	cmdDown   command = "down"
	cmdStatus command = "status"
)

type invocation struct {
	cmd     command
	dsn     string
	steps   int
	timeout time.Duration
}

func parseArgs(args []string, getenv func(string) string) (invocation, error) {
	var inv invocation
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&inv.dsn, "dsn", "", "PostgreSQL DSN (default $"+envPostgresDSN+")")
	fs.IntVar(&inv.steps, "steps", 0, "migrations to apply; 0 = all for up, 1 for down")
	fs.DurationVar(&inv.timeout, "timeout", 30*time.Second, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return invocation{}, err
	}

	if fs.NArg() != 1 {
		return invocation{}, errors.New("expected exactly one command: up, down or status")
	}
	inv.cmd = command(strings.ToLower(fs.Arg(0)))
	switch inv.cmd {
	case cmdUp, cmdStatus:
	case cmdDown:
		inv.steps = max(inv.steps, 1)
	default:
		return invocation{}, fmt.Errorf("unknown command %q", fs.Arg(0))
	}

	if inv.steps < 0 {
		return invocation{}, errors.New("steps must not be negative")
	}
	if inv.timeout <= 0 {
		return invocation{}, errors.New("timeout must be positive")
	}
	if inv.dsn = strings.TrimSpace(inv.dsn); inv.dsn == "" {
		inv.dsn = strings.TrimSpace(getenv(envPostgresDSN))
	}
	if inv.dsn == "" {
		return invocation{}, fmt.Errorf("postgres DSN is required (-dsn or %s)", envPostgresDSN)
	}
	return inv, nil
}

// schema — часть postgres.Store, которой пользуется CLI.
type schema interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	Status(ctx context.Context) (postgres.MigrationStatus, error)
}

func main() {
	_ = godotenv.Load()
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	inv, err := parseArgs(os.Args[1:], os.Getenv)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "usage: migrate [-dsn=...] [-steps=N] [-timeout=30s] up|down|status\n%v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), inv.timeout)
	defer cancel()

	store, err := postgres.Open(ctx, inv.dsn, postgres.WithApplicationName("shop-migrate"), postgres.WithMaxConns(2))
	if err != nil {
		log.WithError(err).Fatal("open postgres")
	}
	defer store.Close()

	if err := execute(ctx, store, inv, os.Stdout); err != nil {
		log.WithError(err).WithField("command", inv.cmd).Error("migration failed")
		_ = store.Close()
		os.Exit(1)
	}
}

// execute выполняет команду и печатает состояние схемы после неё.
func execute(ctx context.Context, db schema, inv invocation, out io.Writer) error {
	logger := log.WithFields(log.Fields{"command": inv.cmd, "steps": inv.steps, "build": version.Current().Version})

	var err error
	switch inv.cmd {
	case cmdUp:
		err = db.MigrateUp(ctx, inv.steps)
	case cmdDown:
		err = db.MigrateDown(ctx, inv.steps)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", inv.cmd, err)
	}
	if inv.cmd != cmdStatus {
		logger.Info("migrations done")
	}

	status, err := db.Status(ctx)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	return printStatus(out, status)
}

func printStatus(out io.Writer, status postgres.MigrationStatus) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "schema version\t%d\n", status.Version)
	_, _ = fmt.Fprintf(tw, "applied\t%d\n", status.Applied)
	_, _ = fmt.Fprintf(tw, "pending\t%d\n", len(status.Pending))
	for _, m := range status.Pending {
		_, _ = fmt.Fprintf(tw, "\t%s\n", m)
	}
	return tw.Flush()
}
