// Command hatewatch reads tweet-shaped JSON payloads, one per line, from
// stdin and feeds them through the ingestion pipeline. Lines with a "replies"
// or "article" field are treated as news tweets, everything else as plain
// statuses for the upstream workflow.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"hatewatch/internal/config"
	"hatewatch/internal/ingest"
	"hatewatch/internal/metrics"
	"hatewatch/internal/normalize"
	"hatewatch/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath, storage.NewSearchProfile(cfg.SearchLanguage))
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	metrics.StartServer(cfg.MetricsAddr)

	svc := ingest.New(store, cfg, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("reading payloads from stdin")
	if err := run(ctx, svc, log); err != nil {
		log.Error("ingest", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, svc *ingest.Service, log *slog.Logger) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var probe struct {
			Article *json.RawMessage `json:"article"`
			Replies *json.RawMessage `json:"replies"`
		}
		if err := json.Unmarshal([]byte(line), &probe); err != nil {
			log.Warn("skip undecodable line", "error", err)
			continue
		}

		if probe.Article != nil || probe.Replies != nil {
			var raw normalize.RawTweet
			if err := json.Unmarshal([]byte(line), &raw); err != nil {
				log.Warn("skip undecodable news tweet", "error", err)
				continue
			}
			if _, err := svc.IngestArticle(ctx, raw); err != nil {
				log.Warn("reject article", "error", err)
			}
			continue
		}

		var raw normalize.RawStatus
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			log.Warn("skip undecodable status", "error", err)
			continue
		}
		if _, err := svc.SaveStatus(ctx, raw); err != nil {
			log.Warn("reject status", "error", err)
		}
	}
	return scanner.Err()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
