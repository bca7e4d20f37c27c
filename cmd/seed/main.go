// Command seed loads combo packages and rules from a YAML catalogue into
// PostgreSQL, and can mint an API key for the recommendation API.
//
// Usage:
//
//	seed -file catalogue.yaml [-api-key-name storefront]
//
// DATABASE_URL and the other server variables are read the same way the
// server reads them, including from a .env file.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/matt-riley/comboz/internal/config"
	"github.com/matt-riley/comboz/internal/fixtures"
	"github.com/matt-riley/comboz/internal/logging"
	"github.com/matt-riley/comboz/internal/repository"
)

type options struct {
	file       string
	apiKeyName string
	dryRun     bool
}

type apiKeyCreator interface {
	CreateAPIKey(ctx context.Context, name string) (string, string, error)
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	var opts options
	fs.StringVar(&opts.file, "file", "catalogue.yaml", "path to the YAML catalogue")
	fs.StringVar(&opts.apiKeyName, "api-key-name", "", "also create an API key with this name")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "validate the catalogue without writing")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

func run(args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cat, err := fixtures.Load(opts.file)
	if err != nil {
		return err
	}
	if opts.dryRun {
		fmt.Fprintf(stdout, "catalogue ok: %d packages, %d rules\n", len(cat.Packages), len(cat.Rules))
		return nil
	}

	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.NewWithFormat(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	repo := repository.NewPostgresRepositoryWithChannel(pool, cfg.NotifyChannel)
	return seed(ctx, repo, cat, opts.apiKeyName, stdout)
}

type seedStore interface {
	fixtures.Store
	apiKeyCreator
}

func seed(ctx context.Context, store seedStore, cat fixtures.Catalogue, apiKeyName string, stdout io.Writer) error {
	summary, err := fixtures.Apply(ctx, store, cat)
	if err != nil {
		return err
	}
	slog.Info("catalogue seeded", "packages", summary.Packages, "rules", summary.Rules, "retired", summary.Retired)
	fmt.Fprintf(stdout, "seeded %d packages and %d rules\n", summary.Packages, summary.Rules)
	if summary.Retired > 0 {
		fmt.Fprintf(stdout, "retired %d rules\n", summary.Retired)
	}

	if apiKeyName == "" {
		return nil
	}

	keyID, secret, err := store.CreateAPIKey(ctx, apiKeyName)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	fmt.Fprintf(stdout, "api key: %s.%s\n", keyID, secret)
	return nil
}
