package cli

import (
	"fmt"

	"github.com/mirajehossain/gochangelog/internal/db"
	"github.com/mirajehossain/gochangelog/internal/migrator"
)

// Validate checks the changelogs without applying them. Without a DSN only
// parsing and rendering for the configured driver are checked.
type Validate struct{}

// Run the validate command.
func (c *Validate) Run(s *session) error {
	reg, err := s.registry()
	if err != nil {
		return err
	}

	if s.cfg.DSN == "" {
		dialect, err := db.DialectFor(s.cfg.Driver)
		if err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		res, err := reg.Load()
		if err != nil {
			return err
		}
		ex := &migrator.Executor{Dialect: dialect}
		for _, cs := range res.ChangeSets {
			if _, err := ex.Render(cs); err != nil {
				return err
			}
		}
		for _, merr := range res.Skipped {
			s.log.Warn("skipped malformed changelog", "file", merr.File, "error", merr)
		}
		s.log.Info("changelogs are valid", "changesets", len(res.ChangeSets), "driver", dialect.Name())
		return nil
	}

	r, done, err := s.runner()
	if err != nil {
		return err
	}
	defer done()
	plan, err := r.Validate(s.ctx, reg)
	if err != nil {
		return err
	}
	s.log.Info("changelogs are valid", "changesets", len(plan.All), "pending", len(plan.Pending))
	return nil
}
