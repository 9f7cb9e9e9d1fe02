package cli

import (
	"encoding/json"
	"strconv"
	"time"
)

// Status reports the state of every changeset.
type Status struct{}

// Run the status command.
func (c *Status) Run(s *session) error {
	reg, err := s.registry()
	if err != nil {
		return err
	}
	r, done, err := s.runner()
	if err != nil {
		return err
	}
	defer done()

	plan, err := r.Plan(s.ctx, reg)
	if err != nil {
		return err
	}
	for _, merr := range plan.Skipped {
		s.log.Warn("skipped malformed changelog", "file", merr.File, "error", merr)
	}
	entries := plan.Status()

	if s.cfg.JSON {
		enc := json.NewEncoder(s.env.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	data := make([][]string, 0, len(entries))
	for _, e := range entries {
		appliedAt, order := "", ""
		if e.AppliedAt != nil {
			appliedAt = e.AppliedAt.Local().Format(time.DateTime)
			order = strconv.FormatInt(e.ExecutionOrder, 10)
		}
		data = append(data, []string{e.ID, e.Author, e.State, appliedAt, order, e.Filename})
	}
	return renderTable([]string{"ID", "Author", "State", "Applied At", "Order", "File"}, data, s.env.Stdout)
}
