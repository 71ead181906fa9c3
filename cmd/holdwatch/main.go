package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/investair/holdwatch/api"
	"github.com/investair/holdwatch/docext"
	"github.com/investair/holdwatch/docext/vision"
	"github.com/investair/holdwatch/fields/llmx"
	"github.com/investair/holdwatch/objstore"
	"github.com/investair/holdwatch/pipeline"
	"github.com/investair/holdwatch/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logger := newLogger()
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runPipeline(ctx, os.Args[2:], logger)
	case "serve":
		err = serveAPI(ctx, os.Args[2:], logger)
	case "parties":
		err = extractParties(ctx, os.Args[2:], logger)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: holdwatch <command> [flags]

commands:
  run      process the filing bucket end to end
  serve    expose the processed data over HTTP
  parties  deep-extract the party structure of one filing`)
}

func newLogger() *slog.Logger {
	var lvl slog.Level
	switch env("LOG_LEVEL", "info") {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func runPipeline(ctx context.Context, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "holdwatch.yaml", "configuration file")
	fs.Parse(args)

	cfg, err := pipeline.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	// Secrets come from the environment, never the config file on disk.
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.OCR.APIKey = key
		cfg.OCR.Enabled = true
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	extractor, err := newExtractor(ctx, cfg, logger)
	if err != nil {
		return err
	}

	runner := pipeline.New(cfg, objstore.NewDir(cfg.BucketDir), db, extractor, logger)
	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	for _, n := range report.NoInformation {
		logger.Warn("holder without dated events",
			"ticker", n.Ticker, "holder", n.Holder, "dropped", n.Dropped)
	}
	return nil
}

func newExtractor(ctx context.Context, cfg *pipeline.Config, logger *slog.Logger) (*docext.Extractor, error) {
	opts := docext.Options{Logger: logger}
	if cfg.OCR.Enabled {
		rec, err := vision.New(ctx, vision.Config{APIKey: cfg.OCR.APIKey, Model: cfg.OCR.Model})
		if err != nil {
			return nil, fmt.Errorf("vision recognizer: %w", err)
		}
		opts.Recognizer = rec
	}
	return docext.New(opts), nil
}

// extractParties runs the structured multi-party extractor over a single
// filing and prints the result. Useful for notices whose relevant-interest
// tables are too irregular for the positional heuristics.
func extractParties(ctx context.Context, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("parties", flag.ExitOnError)
	configPath := fs.String("config", "holdwatch.yaml", "configuration file")
	filing := fs.String("filing", "", "filing id, e.g. 20240115/02768986")
	fs.Parse(args)
	if *filing == "" {
		return fmt.Errorf("-filing is required")
	}

	cfg, err := pipeline.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		apiKey = cfg.OCR.APIKey
	}
	if apiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required for party extraction")
	}

	pdf, err := objstore.NewDir(cfg.BucketDir).Get(ctx, *filing+".pdf")
	if err != nil {
		return err
	}
	extractor := docext.New(docext.Options{Logger: logger})
	text, err := extractor.Text(ctx, *filing, pdf)
	if err != nil {
		return err
	}

	deep, err := llmx.New(ctx, llmx.Config{APIKey: apiKey, Model: cfg.OCR.Model})
	if err != nil {
		return err
	}
	parties, err := deep.Parties(ctx, text)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(parties)
}

func serveAPI(ctx context.Context, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "holdwatch.yaml", "configuration file")
	addr := fs.String("addr", env("ADDR", ":8080"), "listen address")
	fs.Parse(args)

	cfg, err := pipeline.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	srv := &http.Server{Addr: *addr, Handler: api.NewService(db, logger).Router()}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving", "addr", *addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return srv.Shutdown(context.Background())
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
