// Package main is a diagnostic tool for database connectivity. It connects
// with the server's configuration and prints the schema version, grant counts
// by status and the size of the audit trail. The binary exits non-zero on any
// failure so it can gate deployments in CI/CD pipelines.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/shopdesk/shopdesk/internal/config"
	"github.com/shopdesk/shopdesk/internal/db"
	"github.com/shopdesk/shopdesk/internal/db/models"
	"github.com/shopdesk/shopdesk/internal/db/repositories"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	conn, err := db.Connect(ctx, cfg.Database.GetDSN(), db.PoolConfig{MaxOpen: 2, MaxIdle: 1})
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	fmt.Println("=== SCHEMA ===")
	version, dirty, err := db.GetMigrationVersion(conn.DB)
	if err != nil {
		log.Fatalf("Failed to read migration version: %v", err)
	}
	fmt.Printf("Version: %d (dirty: %v)\n", version, dirty)

	fmt.Println("\n=== ACCESS GRANTS ===")
	counts, err := repositories.NewGrantRepository(conn).CountByStatus(ctx)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	if len(statuses) == 0 {
		fmt.Println("No grants found")
	}
	for _, s := range statuses {
		fmt.Printf("%-9s %d\n", s, counts[models.GrantStatus(s)])
	}

	fmt.Println("\n=== AUDIT EVENTS ===")
	var total int
	if err := conn.GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_events`); err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Printf("Events: %d\n", total)

	earliest, err := repositories.NewAuditRepository(conn).EarliestOccurredAt(ctx)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	if earliest != nil {
		fmt.Printf("Earliest: %s\n", earliest.UTC().Format("2006-01-02T15:04:05Z"))
	}
}
