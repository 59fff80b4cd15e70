package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultPruneSpec      = "* * * * *"
	Timezone              = "UTC"
	TimezoneOffsetSeconds = 0
)

// Pruner drops request history that has left the rate limit window.
type Pruner interface {
	Prune() int
}

type Scheduler struct {
	ctx    context.Context
	cron   *cron.Cron
	spec   string
	pruner Pruner
	log    *slog.Logger
}

func New(ctx context.Context, spec string, pruner Pruner, log *slog.Logger) *Scheduler {
	c := cron.New(cron.WithLocation(time.FixedZone(Timezone, TimezoneOffsetSeconds)))

	if spec == "" {
		spec = DefaultPruneSpec
	}

	return &Scheduler{
		ctx:    ctx,
		cron:   c,
		spec:   spec,
		pruner: pruner,
		log:    log,
	}
}

func (s *Scheduler) Spec() string {
	return s.spec
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.prune); err != nil {
		return err
	}

	s.cron.Start()

	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) prune() {
	if s.ctx.Err() != nil {
		s.log.InfoContext(s.ctx, "Scheduler context is done",
			"error", s.ctx.Err())
		return
	}

	removed := s.pruner.Prune()
	if removed == 0 {
		return
	}

	s.log.DebugContext(s.ctx, "Rate limit history is pruned",
		"removedIdentities", removed)
}
