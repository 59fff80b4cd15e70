package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"pagesum/internal/app"
	"pagesum/internal/client"
	"pagesum/internal/config"
	"pagesum/internal/database"
	"pagesum/internal/kv"
	"pagesum/internal/ratelimiter"
	"pagesum/internal/store"
	"syscall"

	"github.com/alecthomas/kong"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := NewMain()

	if err := m.Run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, errorMessage(err))
		stop()
		os.Exit(1)
	}
}

// Main holds what a run opens so Close can release it.
type Main struct {
	closers []io.Closer
}

func NewMain() *Main {
	return &Main{}
}

func (m *Main) Close() error {
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		errs = append(errs, m.closers[i].Close())
	}
	m.closers = nil

	return errors.Join(errs...)
}

func (m *Main) Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	log := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(log)

	deps := &Dependencies{
		Ctx:    ctx,
		Stdout: stdout,
		Stderr: stderr,
		Stdin:  os.Stdin,
	}

	cli := &CLI{}
	parser, err := kong.New(cli,
		kong.Name("pagesum"),
		kong.Description("Summarise web pages and keep the summaries locally."),
		kong.Writers(stdout, stderr),
		kong.Exit(func(int) {}),
		kong.Bind(deps),
	)
	if err != nil {
		return fmt.Errorf("create parser: %w", err)
	}

	if len(args) == 0 {
		_, _ = parser.Parse([]string{"--help"})
		return errors.New("no command specified. Run 'pagesum --help' to see available commands")
	}

	if args[0] == "help" || args[0] == "--help" || args[0] == "-h" {
		_, _ = parser.Parse([]string{"--help"})
		return nil
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	if cli.Verbose {
		log = slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		slog.SetDefault(log)
	}

	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	backend, err := m.openBackend(ctx, cfg, log, deps)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	limiter := ratelimiter.New(cfg.RateLimitWindow, cfg.RateLimitMax, log,
		ratelimiter.WithPersistence(backend, ratelimiter.StateKey))

	c, err := client.New(cfg.ServerURL, client.WithHTTPClient(newHTTPClient(cfg)))
	if err != nil {
		return err
	}

	deps.App = app.New(store.New(backend, log), limiter, c, log)
	deps.Server = c

	return kongCtx.Run(deps)
}

func (m *Main) openBackend(
	ctx context.Context,
	cfg config.Client,
	log *slog.Logger,
	deps *Dependencies,
) (kv.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		r, err := kv.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		m.closers = append(m.closers, r)

		return r, nil
	case config.BackendMemory:
		return kv.NewMemory(), nil
	default:
		db, err := database.New(ctx, cfg.DBPath, log)
		if err != nil {
			return nil, fmt.Errorf("open database at %q: %w", cfg.DBPath, err)
		}
		m.closers = append(m.closers, db)
		deps.Keys = db.Keys

		return db, nil
	}
}
