package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mirajehossain/gochangelog/internal/migrator"
)

var unsafeNameRe = regexp.MustCompile(`[^a-z0-9_]+`)

// Create writes an empty changelog named after the current time.
type Create struct {
	Name string `arg:"" help:"Changelog name, e.g. add_v2v_columns."`
}

// Run the create command.
func (c *Create) Run(s *session) error {
	name := sanitize(c.Name)
	if name == "" {
		return fmt.Errorf("%w: changelog name %q has no usable characters", errUsage, c.Name)
	}
	if s.cfg.Embedded {
		return fmt.Errorf("%w: cannot create changelogs in the embedded source", errUsage)
	}
	author := s.cfg.AppliedBy
	if author == "" {
		author = migrator.DefaultAppliedBy()
	}
	id := s.env.Now().UTC().Format("200601021504")

	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(s.cfg.Dir, id+"_"+name+".sql")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("-- liquibase formatted sql\n\n-- changeset %s:%s\n-- comment: %s\n",
		author, id, strings.ReplaceAll(name, "_", " "))
	if _, err := f.WriteString(body); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.log.Info("created changelog", "path", path, "changeset", author+":"+id)
	return nil
}

func sanitize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return strings.Trim(unsafeNameRe.ReplaceAllString(s, ""), "_")
}
