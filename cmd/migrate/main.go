package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"neurovision/internal/config"
	"neurovision/internal/logger"
	"neurovision/internal/repository/sqlite"
	"neurovision/internal/service/storage"
)

func main() {
	cfg := config.Load()

	dbPath := flag.String("db", cfg.DBPath, "Database path")
	driver := flag.String("driver", cfg.DBDriver, "SQLite driver: sqlite3 (cgo) or sqlite (pure Go)")
	uploads := flag.String("uploads", cfg.UploadRoot, "Upload root holding public/ fallback images")
	prune := flag.Bool("prune", false, "Delete fallback images no analysis refers to")
	flag.Parse()

	cfg.UploadRoot = *uploads

	fmt.Printf("Applying schema to %s (%s)\n", *dbPath, *driver)

	db, err := sqlite.New(*driver, *dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	images := sqlite.NewImageRepository(db)

	stats, err := images.GetStats(ctx, 0)
	if err != nil {
		log.Fatalf("Failed to read stats: %v", err)
	}

	fmt.Printf("✅ Schema is up to date\n")
	fmt.Printf("\n📊 Database Statistics:\n")
	fmt.Printf("   Total images: %d\n", stats.TotalImages)
	fmt.Printf("   Total objects: %d\n", stats.TotalObjects)
	fmt.Printf("   Average accuracy: %.3f\n", stats.AvgAccuracy)
	if len(stats.ObjectCounts) > 0 {
		fmt.Printf("   Most detected:\n")
		for name, count := range stats.ObjectCounts {
			fmt.Printf("      - %s: %d\n", name, count)
		}
	}

	fallback := storage.NewFallbackStore(cfg, logger.NewWriterLogger(io.Discard))
	names, err := fallback.List()
	if err != nil {
		log.Fatalf("Failed to list %s: %v", cfg.PublicDir(), err)
	}

	orphans := 0
	for _, name := range names {
		referenced, err := images.ExistsByPath(ctx, fallback.URL(name))
		if err != nil {
			log.Fatalf("Failed to check %s: %v", name, err)
		}
		if referenced {
			continue
		}

		orphans++
		if !*prune {
			fmt.Printf("⚠️  Orphaned fallback image: %s\n", name)
			continue
		}
		if err := fallback.Remove(name); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", name, err)
			continue
		}
		fmt.Printf("🗑️  Removed orphaned fallback image: %s\n", name)
	}

	fmt.Printf("\n📁 Fallback images: %d stored, %d orphaned\n", len(names), orphans)
}
