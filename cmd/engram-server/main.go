package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pathwise/engram/internal/config"
	"github.com/pathwise/engram/internal/engine"
	"github.com/pathwise/engram/internal/llm"
	"github.com/pathwise/engram/internal/server"
	"github.com/pathwise/engram/internal/storage"
	"github.com/pathwise/engram/internal/storage/postgres"
	"github.com/pathwise/engram/internal/storage/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to an optional YAML config file (env vars still apply)")
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

	text, err := llm.NewTextGenerator(cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to initialize LLM provider: %v", err)
	}
	embedGen, err := llm.NewEmbeddingGenerator(cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to initialize embedding provider: %v", err)
	}
	if embedGen == nil {
		log.Printf("Warning: no embedding provider available, retrieval will return no memories")
	}

	memoryEngine, err := engine.NewMemoryEngine(store, text, embedGen, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize memory engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := server.Start(ctx, cfg, memoryEngine)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("Engram API running at http://%s (storage=%s, llm=%s)",
		addr, cfg.Storage.Engine, cfg.LLM.Provider)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	time.Sleep(1 * time.Second) // Give in-flight requests time to finish

	if err := memoryEngine.Close(); err != nil {
		log.Printf("Error closing engine: %v", err)
	}
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
