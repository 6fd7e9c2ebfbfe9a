// CLAUDE:SUMMARY CLI entry point for mapslink: annotate live pages from a YAML config or a single URL, or annotate a saved HTML file offline.
// Command mapslink adds "Open in Google Maps" links next to the map widgets
// of search results pages.
//
// Usage:
//
//	mapslink -config mapslink.yaml                               # annotate pages from YAML config
//	mapslink -url 'https://www.google.com/search?q=pizza'        # annotate a single live page
//	mapslink -html saved.html -location 'https://...?q=pizza'    # annotate a saved page, print HTML
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/mapslink/annotator"
	"github.com/hazyhaar/mapslink/dom"
	"github.com/hazyhaar/mapslink/dom/memdom"
	"github.com/hazyhaar/mapslink/idgen"
	"github.com/hazyhaar/mapslink/mapslink"
)

func main() {
	configPath := flag.String("config", "", "path to mapslink.yaml config file")
	singleURL := flag.String("url", "", "annotate a single live URL")
	htmlPath := flag.String("html", "", "annotate a saved HTML file (- for stdin) and print the result")
	location := flag.String("location", "", "address the saved HTML was served from (with -html)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, logger, *configPath, *singleURL, *htmlPath, *location)
	if errors.Is(err, errUsage) {
		fmt.Fprintln(os.Stderr, "usage: mapslink -config <file> | -url <url> | -html <file> [-location <url>]")
		os.Exit(2)
	}
	if err != nil {
		logger.Error("mapslink: fatal", "error", err)
		os.Exit(1)
	}
}

// errUsage means no mode flag was given.
var errUsage = errors.New("mapslink: one of -config, -url or -html is required")

func run(ctx context.Context, logger *slog.Logger, configPath, singleURL, htmlPath, location string) error {
	switch {
	case htmlPath != "":
		return runHTML(logger, htmlPath, location, os.Stdout)
	case singleURL != "":
		return runSingle(ctx, logger, singleURL)
	case configPath != "":
		return runConfig(ctx, logger, configPath)
	}
	return errUsage
}

// offlineRect is the box every element reports in a saved page, which has
// no layout. Large enough to pass the visibility filter.
var offlineRect = dom.Rect{Width: 1024, Height: 768}

func runHTML(logger *slog.Logger, path, location string, out io.Writer) error {
	var in io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open html: %w", err)
		}
		defer f.Close()
		in = f
	}

	doc, err := memdom.Parse(in, location, memdom.WithDefaultRect(offlineRect), memdom.WithLogger(logger))
	if err != nil {
		return err
	}

	res := mapslink.New(doc, mapslink.WithLogger(logger)).RunPass()
	logger.Info("mapslink: offline pass",
		"file", path,
		"candidates", res.Candidates,
		"injected", res.Injected(),
		"outcomes", outcomeAttrs(res))

	_, err = io.WriteString(out, doc.HTML())
	return err
}

func outcomeAttrs(res mapslink.PassResult) map[string]int {
	m := make(map[string]int, len(res.Outcomes))
	for o, n := range res.Outcomes {
		m[o.String()] = n
	}
	return m
}

func runSingle(ctx context.Context, logger *slog.Logger, url string) error {
	cfg := &annotator.Config{
		Pages: []annotator.PageConfig{{ID: idgen.Prefixed("page_", idgen.Default)(), URL: url}},
	}
	return serve(ctx, logger, cfg)
}

func runConfig(ctx context.Context, logger *slog.Logger, path string) error {
	cfg, err := annotator.LoadConfigFile(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return serve(ctx, logger, cfg)
}

func serve(ctx context.Context, logger *slog.Logger, cfg *annotator.Config) error {
	a, err := annotator.New(cfg, logger)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		a.Stop()
		return fmt.Errorf("start: %w", err)
	}

	<-ctx.Done()
	for _, r := range a.Report() {
		logger.Info("mapslink: page summary",
			"id", r.ID, "url", r.URL, "location", r.Location, "processed", r.Processed)
	}
	a.Stop()
	return nil
}
