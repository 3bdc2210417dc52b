// Command vitibrasil serves Embrapa VitiBrasil statistics through a local
// cache and keeps the cache warm with River refresh jobs.
//
// Usage:
//
//	vitibrasil extract -category processing -sub hybrid_americans -year 2023
//	vitibrasil catalog
//	vitibrasil serve
//
// Configuration comes from VITIBRASIL_* environment variables; see Config.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"vitibrasil/pkg/vitis"
)

var errUsage = errors.New("usage: vitibrasil <extract|catalog|serve> [flags]")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], nil, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "vitibrasil:", err)
		os.Exit(exitCode(err))
	}
}

func run(ctx context.Context, args []string, environ map[string]string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	cfg, err := loadConfig(environ)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}

	switch args[0] {
	case "extract":
		return runExtract(ctx, cfg, logger, args[1:], stdout)
	case "catalog":
		return runCatalog(stdout)
	case "serve":
		return runServe(ctx, cfg, logger)
	default:
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}
}

func newLogger(cfg Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.slogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

// exitCode maps client mistakes to 2 and everything else to 1.
func exitCode(err error) int {
	if errors.Is(err, errUsage) {
		return 2
	}
	switch vitis.KindOf(err) {
	case vitis.KindValidation, vitis.KindUnsupportedResource:
		return 2
	}
	return 1
}
