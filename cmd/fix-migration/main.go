// Package main is a repair tool for dirty migration state. Dirty state occurs
// when golang-migrate marks a version as in progress and the process is
// interrupted before it completes. This tool clears the dirty flag so the
// migration runner can retry on the next server startup instead of refusing
// to start with "Dirty database version".
package main

import (
	"context"
	"log"
	"os"

	"github.com/shopdesk/shopdesk/internal/config"
	"github.com/shopdesk/shopdesk/internal/db"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	conn, err := db.Connect(context.Background(), cfg.Database.GetDSN(), db.PoolConfig{MaxOpen: 1, MaxIdle: 1})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	log.Println("Connected to database successfully")

	version, dirty, err := db.GetMigrationVersion(conn.DB)
	if err != nil {
		log.Fatalf("Failed to check migration state: %v", err)
	}
	log.Printf("Current migration state: version=%d, dirty=%v", version, dirty)

	if !dirty {
		log.Println("Migration state is already clean")
		return
	}

	log.Println("Fixing dirty migration state...")
	if _, err := conn.Exec("UPDATE schema_migrations SET dirty = false"); err != nil {
		log.Fatalf("Failed to fix dirty state: %v", err)
	}

	version, dirty, err = db.GetMigrationVersion(conn.DB)
	if err != nil {
		log.Fatalf("Failed to check final migration state: %v", err)
	}
	log.Printf("Final migration state: version=%d, dirty=%v", version, dirty)
}
