// Command ingest loads vocabulary text files, embeds them and upserts them
// into the pgvector index.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"vocab-agent/internal/app"
	"vocab-agent/internal/config"
	"vocab-agent/internal/logger"
	"vocab-agent/internal/retrieval"
)

func main() {
	if err := run(); err != nil {
		slog.Error("ingest failed", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(config.WithoutChatStore())
	if err != nil {
		return err
	}
	dir := flag.String("dir", cfg.Ingest.Dir, "directory containing *.txt vocabulary files")
	migrate := flag.Bool("migrate", true, "apply schema migrations before ingesting")
	flag.Parse()

	slog.SetDefault(logger.New(cfg.Logging))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *migrate {
		if err := retrieval.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return err
		}
	}

	docs, err := retrieval.LoadVocabularyFiles(*dir)
	if err != nil {
		return err
	}
	slog.Info("loaded vocabulary files", "dir", *dir, "documents", len(docs))

	params, err := app.NewParamStore(ctx, *cfg)
	if err != nil {
		return err
	}
	model, err := app.NewModelClient(*cfg, params)
	if err != nil {
		return err
	}

	pool, err := retrieval.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()

	index, err := retrieval.NewStore(pool, model, cfg.Retriever)
	if err != nil {
		return err
	}
	ingester, err := retrieval.NewIngester(model, index, cfg.Ingest.BatchSize, cfg.Ingest.Concurrency)
	if err != nil {
		return err
	}

	n, err := ingester.Ingest(ctx, docs)
	if err != nil {
		return err
	}
	slog.Info("ingest complete", "documents", n)
	return nil
}
