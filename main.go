package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/ilvar/espg/internal/catalog"
	"github.com/ilvar/espg/internal/config"
	"github.com/ilvar/espg/internal/gateway"
	"github.com/ilvar/espg/internal/logger"
	"github.com/ilvar/espg/internal/search"
)

const envPrefix = "ESPG_"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "espg",
		Short: "Elasticsearch-compatible search over PostgreSQL",
		Long: `espg serves the Elasticsearch document and search API from PostgreSQL
JSONB tables. Configuration is read from ESPG_* environment variables and an
optional .env file; DATABASE_URL and the PG* variables are honoured as well.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newExplainCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(envPrefix)
	if err != nil {
		return err
	}
	logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	pool, err := gateway.NewPool(ctx, cfg.ConnString(), cfg.Search.TempPrefix)
	if err != nil {
		return err
	}
	defer pool.Close()

	cat, err := catalog.New(pool.Querier(), cfg.Storage.Distributed, cfg.Search.MappingCacheLen)
	if err != nil {
		return err
	}
	if cfg.DB.Migrate {
		err = catalog.Migrate(cfg.MigrationURL())
	} else {
		err = cat.EnsureSchema(ctx)
	}
	if err != nil {
		return fmt.Errorf("prepare schema: %w", err)
	}

	engine, err := search.NewEngine(cfg.Search.Workers)
	if err != nil {
		return err
	}
	defer engine.Release()

	srv := newServer(cat, search.NewSearcher(cat, pool, engine))
	srv.ping = pool.Ping
	if cfg.Search.RateLimit > 0 {
		srv.limiter = rate.NewLimiter(rate.Limit(cfg.Search.RateLimit), max(cfg.Search.Burst, 1))
	}
	app := srv.app()

	errc := make(chan error, 1)
	go func() {
		logger.Info("espg listening", "port", cfg.HTTP.Port, "distributed", cfg.Storage.Distributed)
		errc <- app.Listen(":" + cfg.HTTP.Port)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(10 * time.Second)
	}
}

type explainOptions struct {
	Indices     string
	Types       string
	Distributed bool
}

func newExplainCommand() *cobra.Command {
	opts := &explainOptions{}
	cmd := &cobra.Command{
		Use:   "explain [body.json]",
		Short: "Print the SQL a search request would run",
		Long: `Explain parses a search body, read from the named file or stdin, and
prints the statements used to select hits. No database connection is made;
the indices named by --index are taken as they are.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			body, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}
			return runExplain(cmd.OutOrStdout(), opts, body)
		},
	}
	cmd.Flags().StringVar(&opts.Indices, "index", "", "comma separated index names")
	cmd.Flags().StringVar(&opts.Types, "type", "", "comma separated document types")
	cmd.Flags().BoolVar(&opts.Distributed, "distributed", false, "indices use per-index relations")
	_ = cmd.MarkFlagRequired("index")
	return cmd
}

func runExplain(w io.Writer, opts *explainOptions, body []byte) error {
	req, err := search.ParseRequest(body, search.Params{})
	if err != nil {
		return err
	}
	target := search.Target{Types: splitList(opts.Types)}
	for _, name := range splitList(opts.Indices) {
		if err := catalog.ValidateIndexName(name); err != nil {
			return err
		}
		target.Indices = append(target.Indices, catalog.Index{Name: name, Distributed: opts.Distributed})
	}
	if len(target.Indices) == 0 {
		return errors.New("no index given")
	}

	for _, stmt := range search.ExplainPlan(req, target) {
		if _, err := fmt.Fprintf(w, "%s;\n", stmt); err != nil {
			return err
		}
	}
	if !req.Aggregations.Empty() {
		names := make([]string, 0, len(req.Aggregations.Children))
		for _, child := range req.Aggregations.Children {
			names = append(names, child.Name())
		}
		out, err := json.Marshal(names)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "-- aggregations evaluated after hits: %s\n", out); err != nil {
			return err
		}
	}
	return nil
}
