package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"pagesum/internal/api"
	"pagesum/internal/config"
	"pagesum/internal/extractor"
	"pagesum/internal/ratelimiter"
	"pagesum/internal/scheduler"
	"pagesum/internal/summarizer"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadServer()
	if err != nil {
		log.ErrorContext(ctx, "Failed to load config",
			"error", err)

		return
	}

	limiter := ratelimiter.New(cfg.RateLimitWindow, cfg.RateLimitMax, log)
	log.InfoContext(ctx, "Rate limiter is initialized",
		"windowSeconds", cfg.RateLimitWindow.Seconds(),
		"maxRequests", cfg.RateLimitMax)

	ext := extractor.New(cfg.FetchTimeout, log,
		extractor.WithDomainRPS(cfg.DomainRPS),
		extractor.WithPrivateAddresses(cfg.AllowPrivateAddresses))
	if cfg.AllowPrivateAddresses {
		log.WarnContext(ctx, "Extractor may fetch pages from private networks",
			"envVar", "ALLOW_PRIVATE_ADDRESSES")
	}
	sum := initOpenAISummarizer(ctx, cfg, log)

	srv := api.New(cfg.Addr, ext, sum, limiter, log,
		api.WithProxyHeaders(cfg.TrustProxyHeaders))

	sched := scheduler.New(ctx, cfg.PruneSpec, limiter, log)
	if err = sched.Start(); err != nil {
		log.ErrorContext(ctx, "Failed to start scheduler",
			"error", err,
			"spec", sched.Spec())

		return
	}
	defer sched.Stop()
	log.InfoContext(ctx, "Scheduler is started",
		"spec", sched.Spec(),
		"timezone", time.FixedZone(scheduler.Timezone, scheduler.TimezoneOffsetSeconds).String())

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)
	log.InfoContext(ctx, "Server is started",
		"addr", cfg.Addr,
		"trustProxyHeaders", cfg.TrustProxyHeaders)

	g.Go(func() error {
		select {
		case sig := <-c:
			log.InfoContext(ctx, "Shutdown signal is received",
				"signal", sig.String())
		case <-gctx.Done():
		}
		cancel()

		log.InfoContext(ctx, "Exiting...",
			"uptimeSeconds", time.Since(start).Seconds())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		return srv.Stop(shutdownCtx)
	})

	if err = g.Wait(); err != nil {
		log.ErrorContext(ctx, "Server stopped with error",
			"error", err,
			"addr", cfg.Addr)

		return
	}
	log.InfoContext(ctx, "Server is stopped",
		"uptimeSeconds", time.Since(start).Seconds())
}

func initOpenAISummarizer(ctx context.Context, cfg config.Server, log *slog.Logger) summarizer.Service {
	if cfg.OpenAIAPIKey == "" {
		log.WarnContext(ctx, "OPENAI_API_KEY is missing so summaries are unavailable",
			"envVar", "OPENAI_API_KEY")

		return nil
	}

	s, err := summarizer.NewOpenAISummarizer(cfg.OpenAIAPIKey,
		summarizer.WithModel(cfg.OpenAIModel),
		summarizer.WithBaseURL(cfg.OpenAIBaseURL),
		summarizer.WithFlexTier(cfg.OpenAIFlexTier),
		summarizer.WithTimeout(cfg.OpenAITimeout))
	if err != nil {
		log.ErrorContext(ctx, "Failed to create OpenAI summarizer so summaries are unavailable",
			"error", err,
			"envVar", "OPENAI_API_KEY")

		return nil
	}

	log.InfoContext(ctx, "OpenAI summarizer is initialized",
		"provider", "openai",
		"flexTier", cfg.OpenAIFlexTier)

	return s
}
