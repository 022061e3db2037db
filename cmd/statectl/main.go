// Command statectl inspects and repairs the persisted player state.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/keshon/playerstate/internal/cli"
	"github.com/keshon/playerstate/internal/config"
	"github.com/keshon/playerstate/internal/logging"
	"github.com/keshon/playerstate/internal/stats"
	"github.com/keshon/playerstate/internal/storage"
	"github.com/keshon/playerstate/pkg/cmd"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := pflag.NewFlagSet("statectl", pflag.ContinueOnError)
	backend := fs.StringP("backend", "b", "", "storage backend, file or redis (default STORAGE_BACKEND)")
	path := fs.StringP("path", "p", "", "state file for the file backend (default STORAGE_PATH)")
	asJSON := fs.Bool("json", false, "print JSON instead of tables")
	timeout := fs.Duration("timeout", 15*time.Second, "per-command timeout")
	level := fs.String("log-level", "warn", "log level")

	reg := cmd.NewRegistry()
	cli.Register(reg)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: statectl [flags] <command> [args]\n\ncommands:\n")
		reg.PrintUsage(os.Stderr)
		fmt.Fprintf(os.Stderr, "\nflags:\n%s", fs.FlagUsages())
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}
	if *backend != "" {
		cfg.StorageBackend = *backend
	}
	if *path != "" {
		cfg.StoragePath = *path
	}
	// a one-shot command must not leave a background saver behind
	cfg.StorageAutosave = 0
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}

	log, closer := logging.Init(logging.Options{Level: *level, Writer: os.Stderr})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close store", "err", err)
		}
	}()

	env := &cli.Env{Store: store, Config: cfg, Out: os.Stdout, JSON: *asJSON}
	if cfg.PostgresDSN != "" {
		rec, closeDB, err := stats.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Warn("statistics database unavailable", "err", err)
		} else {
			defer closeDB()
			env.Stats = rec
		}
	}

	reg.Use(cli.WithTimeout(*timeout), cli.WithLogging(log))
	if err := reg.Dispatch(ctx, fs.Args(), env); err != nil {
		fmt.Fprintln(os.Stderr, "statectl:", err)
		if errors.Is(err, cli.ErrUsage) || errors.Is(err, cmd.ErrUnknownCommand) {
			return 2
		}
		return 1
	}
	return 0
}
