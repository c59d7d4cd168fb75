package main

import (
	"context"
	"flag"
	"log"
	"time"

	"stockbook/internal/core"
	"stockbook/internal/db"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	targetDate := flag.String("date", time.Now().Format("2006-01-02"), "snapshot date (YYYY-MM-DD)")
	backfillFrom := flag.String("backfill-from", "", "backfill start date; runs a backfill instead of a daily snapshot")
	backfillTo := flag.String("backfill-to", "", "backfill end date (defaults to -date)")
	flag.Parse()

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	snapshots := core.NewSnapshotService(pool)

	if *backfillFrom != "" {
		to := *backfillTo
		if to == "" {
			to = *targetDate
		}
		report, err := snapshots.Backfill(ctx, *backfillFrom, to)
		if err != nil {
			log.Fatalf("backfill: %v", err)
		}
		log.Printf("backfilled %d dates", len(report.DatesProcessed))
		if err := report.Err(); err != nil {
			log.Fatalf("backfill finished with failures: %v", err)
		}
		return
	}

	if err := snapshots.RunDaily(ctx, *targetDate); err != nil {
		log.Fatalf("snapshot: %v", err)
	}
	log.Printf("snapshot written for %s", *targetDate)
}
