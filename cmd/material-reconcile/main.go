// material-reconcile recomputes material projections from the purchase rows
// and the usage ledger, repairing any drift it finds.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/material-reconcile [--material-id N]
//
// Without --material-id it sweeps every material and rebuilds missing
// projections for live purchases.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/padaukcraft/beads_backend/config"
	"github.com/padaukcraft/beads_backend/models"
)

func main() {
	materialID := flag.Int("material-id", 0, "Optional: reconcile a single material")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	if *materialID > 0 {
		result, err := models.ReconcileMaterial(ctx, *materialID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reconcile failed: %v\n", err)
			os.Exit(1)
		}
		printJSON(result)
		return
	}

	summary, err := models.ReconcileAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconcile sweep failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(summary)
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
