package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/Jeffrey-done/SubScript/internal/cli"
	"github.com/Jeffrey-done/SubScript/internal/config"
	"github.com/Jeffrey-done/SubScript/internal/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(config.PathFromEnv())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Commands that take everything from flags still work without a config file.
		cfg = &config.Config{}
	case err != nil:
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	zl, err := logger.NewConsole(cfg.BasicConfig.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := cli.New(cfg, zl, os.Stdout, os.Stderr)
	if err := app.Run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, cli.ErrUsage) {
			return 2
		}
		fmt.Fprintf(os.Stderr, "subscript: %v\n", err)
		return 1
	}
	return 0
}
