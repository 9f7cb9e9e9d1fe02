package cli

// Sync marks changesets as applied, for targets whose changes were made
// before the log existed or whose log was lost.
type Sync struct {
	To string `help:"Last changeset id to mark as applied. Defaults to every pending changeset."`
}

// Run the sync command.
func (c *Sync) Run(s *session) error {
	reg, err := s.registry()
	if err != nil {
		return err
	}
	r, done, err := s.runner()
	if err != nil {
		return err
	}
	defer done()

	synced, err := r.Sync(s.ctx, reg, c.To)
	if err != nil {
		return err
	}
	s.log.Info("sync complete", "recorded", len(synced))
	return nil
}
