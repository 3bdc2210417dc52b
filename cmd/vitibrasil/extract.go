package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"vitibrasil/pkg/vitis"
)

// extractOutput is the JSON document printed by the extract command.
type extractOutput struct {
	Key         string           `json:"key"`
	Source      vitis.Source     `json:"source"`
	Stale       bool             `json:"stale"`
	RefreshedAt time.Time        `json:"refreshed_at"`
	Rows        int              `json:"rows"`
	Records     *vitis.RecordSet `json:"records"`
}

func runExtract(ctx context.Context, cfg Config, logger *slog.Logger, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	category := fs.String("category", "", "portal section: production, processing, commercialization, import, export")
	sub := fs.String("sub", "", "sub-category, for processing, import and export")
	year := fs.String("year", "", "year between 1970 and 2024; empty for the portal default")
	refresh := fs.Bool("refresh", false, "fetch from the portal even when the cache is fresh")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	req := vitis.Request{Category: *category, SubCategory: *sub}
	if *year != "" {
		y, err := strconv.Atoi(*year)
		if err != nil {
			return &vitis.ValidationError{Field: "year", Constraint: "year must be an integer", Value: *year}
		}
		req.Year = &y
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	level, _ := cfg.slogLevel()
	ex := vitis.NewExtractor(store, vitis.NewHTTPFetcher(cfg.fetcherConfig()),
		append(cfg.extractorOptions(), vitis.WithObserver(vitis.NewSlogObserver(logger, level)))...)

	var res *vitis.Result
	if *refresh {
		res, err = ex.Refresh(ctx, req)
	} else {
		res, err = ex.Extract(ctx, req)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(extractOutput{
		Key:         res.Key.String(),
		Source:      res.Source,
		Stale:       res.Stale,
		RefreshedAt: res.RefreshedAt,
		Rows:        res.Records.Len(),
		Records:     res.Records,
	})
}

func runCatalog(stdout io.Writer) error {
	for _, key := range vitis.Catalog() {
		if _, err := fmt.Fprintln(stdout, key.String()); err != nil {
			return err
		}
	}
	return nil
}
