// Command engram-sweep runs one compaction sweep and exits. Intended for
// cron or a scheduler; the long-running server never compacts on its own.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/pathwise/engram/internal/config"
	"github.com/pathwise/engram/internal/engine"
	"github.com/pathwise/engram/internal/llm"
	"github.com/pathwise/engram/internal/storage"
	"github.com/pathwise/engram/internal/storage/postgres"
	"github.com/pathwise/engram/internal/storage/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to an optional YAML config file (env vars still apply)")
	timeout := flag.Duration("timeout", 30*time.Minute, "Maximum duration for the sweep")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	text, err := llm.NewTextGenerator(cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to initialize LLM provider: %v", err)
	}
	embedGen, err := llm.NewEmbeddingGenerator(cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to initialize embedding provider: %v", err)
	}

	memoryEngine, err := engine.NewMemoryEngine(store, text, embedGen, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize memory engine: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	report, err := memoryEngine.CompactAll(ctx)
	if err != nil {
		log.Fatalf("Compaction sweep failed: %v", err)
	}

	log.Printf("Sweep finished in %s: owners=%d examined=%d rescored=%d decayed=%d merged=%d contradictions=%d deleted=%d compressed=%d kept=%d errors=%d",
		time.Since(start).Round(time.Millisecond),
		report.OwnersProcessed, report.ItemsExamined, report.Rescored, report.Decayed,
		report.Merged, report.ContradictionsResolved, report.Deleted, report.Compressed,
		report.Kept, report.Errors)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadConfigFile(path)
	}
	return config.LoadConfig()
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.Engine == "postgres" {
		return postgres.NewMemoryStore(cfg.Storage.PostgresDSN)
	}
	return sqlite.NewMemoryStore(cfg.Storage.SQLitePath)
}
