package main

import (
	"context"
	"log"
	"os"

	"github.com/safar/go-auction-engine/internal/config"
	"github.com/safar/go-auction-engine/internal/database"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run scripts/run_migrations.go [up|down] [dir]")
	}

	direction := os.Args[1]
	dir := "migrations"
	if len(os.Args) > 2 {
		dir = os.Args[2]
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	n, err := database.Migrate(context.Background(), db, dir, direction)
	if err != nil {
		log.Fatalf("Migrate %s: %v", direction, err)
	}

	log.Printf("Successfully ran %d migration(s) %s", n, direction)
}
