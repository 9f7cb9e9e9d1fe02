// Package cli is the command line interface of gochangelog.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"

	"github.com/alecthomas/kong"

	"github.com/mirajehossain/gochangelog/internal/changelog"
	"github.com/mirajehossain/gochangelog/internal/config"
	"github.com/mirajehossain/gochangelog/internal/db"
	"github.com/mirajehossain/gochangelog/internal/lock"
	"github.com/mirajehossain/gochangelog/internal/logger"
	"github.com/mirajehossain/gochangelog/internal/migrator"
)

const (
	ExitOK        = 0
	ExitDrift     = 2
	ExitLocked    = 3
	ExitFail      = 4
	ExitPlanError = 5
)

var errUsage = errors.New("invalid usage")

// Env carries the process resources the commands use.
type Env struct {
	Stdout   io.Writer
	Stderr   io.Writer
	Color    bool  // colored log output on Stderr
	Embedded fs.FS // changelogs compiled into the binary
	Now      func() time.Time
}

// CLI is the command line interface of gochangelog.
type CLI struct {
	Globals

	Up       Up       `kong:"cmd,help='Apply all pending changesets.'"`
	Status   Status   `kong:"cmd,help='Show applied and pending changesets.'"`
	Validate Validate `kong:"cmd,help='Parse changelogs and check them against the applied log.'"`
	Sync     Sync     `kong:"cmd,help='Record changesets as applied without executing them.'"`
	Create   Create   `kong:"cmd,help='Scaffold a formatted SQL changelog.'"`
}

// Globals are the flags shared by every command. A flag left at its zero
// value keeps the configured value.
type Globals struct {
	Config              string `help:"YAML config file. Defaults to gochangelog/config.yaml in the XDG config dirs." type:"path"`
	DSN                 string `name:"dsn" help:"Database DSN (or DB_DSN)."`
	Driver              string `help:"Target driver: mysql, postgres or sqlite (or DB_DRIVER)."`
	Dir                 string `help:"Changelog directory (or CHANGELOG_DIR)."`
	Embedded            bool   `help:"Use the changelogs compiled into the binary."`
	JSON                bool   `name:"json" help:"JSON logs and status output."`
	LogLevel            string `help:"Log level: debug, info, warn or error."`
	LockTimeout         int    `help:"Advisory lock timeout in seconds (or LOCK_TIMEOUT_SEC)."`
	Table               string `help:"Applied changelog table (or CHANGELOG_TABLE)."`
	AppliedBy           string `help:"Override applied_by."`
	ContinueOnMalformed bool   `help:"Skip malformed changelog files instead of failing."`
	MetricsTextfile     string `help:"Write run metrics to this file in Prometheus text format."`
}

func (g *Globals) apply(cfg *config.Config) {
	if g.DSN != "" {
		cfg.DSN = g.DSN
	}
	if g.Driver != "" {
		cfg.Driver = g.Driver
	}
	if g.Dir != "" {
		cfg.Dir = g.Dir
	}
	if g.LogLevel != "" {
		cfg.LogLevel = g.LogLevel
	}
	if g.LockTimeout > 0 {
		cfg.LockTimeoutSec = g.LockTimeout
	}
	if g.Table != "" {
		cfg.ChangelogTable = g.Table
	}
	if g.AppliedBy != "" {
		cfg.AppliedBy = g.AppliedBy
	}
	if g.MetricsTextfile != "" {
		cfg.MetricsTextfile = g.MetricsTextfile
	}
	cfg.Embedded = cfg.Embedded || g.Embedded
	cfg.JSON = cfg.JSON || g.JSON
	cfg.ContinueOnMalformed = cfg.ContinueOnMalformed || g.ContinueOnMalformed
}

// Run parses args, executes the selected command and returns the process
// exit code.
func Run(ctx context.Context, args []string, env *Env) int {
	if env.Now == nil {
		env.Now = time.Now
	}
	c := &CLI{}
	parser, err := kong.New(c,
		kong.Name("changelog"),
		kong.Description("Apply versioned changesets to a relational database."),
		kong.UsageOnError(),
		kong.Writers(env.Stdout, env.Stderr),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
	)
	if err != nil {
		fmt.Fprintf(env.Stderr, "failed creating the Kong parser: %v\n", err)
		return ExitFail
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintf(env.Stderr, "changelog: %v\n", err)
		return ExitPlanError
	}

	s, err := newSession(ctx, &c.Globals, env)
	if err != nil {
		fmt.Fprintf(env.Stderr, "changelog: %v\n", err)
		return ExitPlanError
	}
	if err := kctx.Run(s); err != nil {
		s.log.Error(kctx.Command()+" failed", "error", err)
		return ExitCode(err)
	}
	return ExitOK
}

// ExitCode maps a command error onto the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, migrator.ErrDrift):
		return ExitDrift
	case errors.Is(err, lock.ErrNotAcquired):
		return ExitLocked
	case errors.Is(err, changelog.ErrMalformedChangeSet),
		errors.Is(err, migrator.ErrNoSuchChangeSet),
		errors.Is(err, errUsage):
		return ExitPlanError
	}
	return ExitFail
}

type session struct {
	ctx context.Context
	cfg *config.Config
	log *slog.Logger
	env *Env
}

func newSession(ctx context.Context, g *Globals, env *Env) (*session, error) {
	path := g.Config
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.LoadYAML(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg, err = config.MergeEnv(cfg); err != nil {
		return nil, err
	}
	g.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &session{
		ctx: ctx,
		cfg: cfg,
		log: logger.New(env.Stderr, cfg.JSON, env.Color, logger.ParseLevel(cfg.LogLevel)),
		env: env,
	}, nil
}

func (s *session) registry() (*changelog.Registry, error) {
	src := changelog.Source{RootDir: s.cfg.Dir}
	if s.cfg.Embedded {
		if s.env.Embedded == nil {
			return nil, fmt.Errorf("%w: no changelogs are embedded in this build", errUsage)
		}
		src = changelog.Source{FS: s.env.Embedded, RootDir: "."}
	}
	return changelog.NewRegistry(src, changelog.ContinueOnMalformed(s.cfg.ContinueOnMalformed)), nil
}

// runner opens the target and prepares a runner with its log table in place.
// The returned func closes the database.
func (s *session) runner() (*migrator.Runner, func(), error) {
	if s.cfg.DSN == "" {
		return nil, nil, fmt.Errorf("%w: --dsn or DB_DSN is required", errUsage)
	}
	dialect, err := db.DialectFor(s.cfg.Driver)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	database, _, err := db.Open(dialect.Name(), s.cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	r := migrator.NewRunner(database, dialect, s.cfg.ChangelogTable, s.cfg.AppliedBy)
	r.Log = s.log.With("deployment_id", r.DeploymentID)
	r.LockTimeout = s.cfg.LockTimeout()
	r.Retry = migrator.RetryPolicy{
		MaxAttempts:     s.cfg.RetryMaxAttempts,
		InitialInterval: s.cfg.RetryInitialInterval(),
		MaxInterval:     10 * time.Second,
	}
	key := lock.KeyFor(db.Name(dialect.Name(), s.cfg.DSN), s.cfg.ChangelogTable)
	r.Locker = lock.New(dialect.Name(), database, key)

	if err := r.Ensure(s.ctx); err != nil {
		_ = database.Close()
		return nil, nil, err
	}
	return r, func() { _ = database.Close() }, nil
}
