package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/fieldfocus/fieldops_backend/config"
	"github.com/fieldfocus/fieldops_backend/utils"
	"github.com/fieldfocus/fieldops_backend/workflow"
	"github.com/sirupsen/logrus"
)

// Recomputes every stored balance from the movement ledger and reports
// disagreements. Read-only: mismatches are printed, never corrected.
func main() {
	businessID := flag.String("business-id", "", "Required: business id")
	failOnMismatch := flag.Bool("fail-on-mismatch", true, "Exit nonzero when any mismatch is found")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()

	ctx := utils.SetBusinessIdInContext(context.Background(), strings.TrimSpace(*businessID))
	mismatches, err := workflow.ReconcileQuantities(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconcile failed: %v\n", err)
		os.Exit(1)
	}

	if len(mismatches) == 0 {
		fmt.Println("All stored quantities agree with the movement ledger.")
		return
	}

	for _, m := range mismatches {
		fmt.Printf("MISMATCH item=%d location=%d stored=%s recomputed=%s\n",
			m.ItemId, m.LocationId, m.Stored.String(), m.Recomputed.String())
	}
	fmt.Printf("%d mismatch(es) found\n", len(mismatches))
	if *failOnMismatch {
		os.Exit(2)
	}
}
