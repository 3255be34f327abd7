// usage-ledger-migrate converts legacy piece-denominated return rows into
// signed ledger quantities and re-derives the touched material projections.
// Safe to rerun; already-normalized rows are skipped.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/usage-ledger-migrate [--dry-run]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/padaukcraft/beads_backend/config"
	"github.com/padaukcraft/beads_backend/models"
	"github.com/padaukcraft/beads_backend/workflow"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Count convertible rows without writing")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	if *dryRun {
		var pending int64
		err := db.WithContext(ctx).Model(&models.MaterialUsage{}).
			Where("legacy_return_piece_qty IS NOT NULL AND normalized_at IS NULL").
			Count(&pending).Error
		if err != nil {
			fmt.Fprintf(os.Stderr, "count failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%d legacy return rows pending normalization\n", pending)
		return
	}

	result, err := workflow.NormalizeLegacyReturns(ctx, config.GetLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
}
