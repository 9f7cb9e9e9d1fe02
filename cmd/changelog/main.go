package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-colorable"

	"github.com/mirajehossain/gochangelog/changelogs"
	"github.com/mirajehossain/gochangelog/internal/cli"
	"github.com/mirajehossain/gochangelog/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	stderr, color := logger.Terminal(os.Stderr)
	code := cli.Run(ctx, os.Args[1:], &cli.Env{
		Stdout:   colorable.NewColorable(os.Stdout),
		Stderr:   stderr,
		Color:    color,
		Embedded: changelogs.FS,
		Now:      time.Now,
	})
	stop()
	os.Exit(code)
}
