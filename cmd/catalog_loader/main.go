package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/jortega-grc/covmap/internal/adapters/catalog"
)

func main() {
	seedDir := flag.String("seed-dir", "./configs/frameworks", "Directory with framework seed YAML files")
	seedFile := flag.String("seed-file", "", "Single framework seed YAML file (overrides -seed-dir)")
	dbPath := flag.String("db-path", "./data/catalog.db", "Path to catalog database")
	flag.Parse()

	log.Println("=== Framework Catalog Loader ===")
	log.Printf("Database: %s", *dbPath)

	// Ensure data directory exists
	if err := os.MkdirAll(filepath.Dir(*dbPath), 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	repo, err := catalog.NewSQLiteRepository(*dbPath)
	if err != nil {
		log.Fatalf("Failed to create repository: %v", err)
	}
	defer repo.Close()

	// Offline loads have no recomputation consumer, hence no emitter.
	loader := catalog.NewSeedLoader(repo, nil)
	ctx := context.Background()

	if *seedFile != "" {
		if err := loader.LoadFromFile(ctx, *seedFile); err != nil {
			log.Fatalf("Failed to load seed file: %v", err)
		}
	} else {
		if err := loader.LoadFromDir(ctx, *seedDir); err != nil {
			log.Fatalf("Failed to load seed directory: %v", err)
		}
	}

	count, _ := repo.GetTotalCount(ctx)
	log.Printf("✓ Catalog now contains %d requirements", count)
}
