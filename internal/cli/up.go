package cli

import (
	"time"

	"github.com/mirajehossain/gochangelog/internal/changelog"
	"github.com/mirajehossain/gochangelog/internal/metrics"
	"github.com/mirajehossain/gochangelog/internal/migrator"
)

// Up applies the pending changesets.
type Up struct {
	DryRun bool `help:"Render and log the statements without executing them."`
}

// Run the up command.
func (c *Up) Run(s *session) error {
	reg, err := s.registry()
	if err != nil {
		return err
	}
	r, done, err := s.runner()
	if err != nil {
		return err
	}
	defer done()

	m := metrics.New()
	r.Progress = func(stage string, _ changelog.ChangeSet, rec *migrator.Record, _ error) {
		var d time.Duration
		if rec != nil {
			d = time.Duration(rec.DurationMS) * time.Millisecond
		}
		m.Observe(stage, d)
	}

	dryRun := c.DryRun || s.cfg.DryRun
	applied, err := r.Up(s.ctx, reg, dryRun)

	m.Finish(s.env.Now())
	if s.cfg.MetricsTextfile != "" {
		if werr := m.WriteTextfile(s.cfg.MetricsTextfile); werr != nil {
			s.log.Warn("failed to write metrics", "path", s.cfg.MetricsTextfile, "error", werr)
		}
	}
	if err != nil {
		return err
	}
	s.log.Info("up complete", "applied", len(applied), "dry_run", dryRun)
	return nil
}
