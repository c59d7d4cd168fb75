package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strconv"
	"strings"

	"stockbook/internal/core"
	"stockbook/internal/db"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	products := flag.String("products", "", "comma-separated product IDs to rebuild (empty means all)")
	verifyOnly := flag.Bool("verify", false, "only check ledger consistency, do not rebuild")
	flag.Parse()

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	allowNegative := os.Getenv("ALLOW_NEGATIVE_STOCK") != "false"
	recompute := core.NewRecomputeService(pool, allowNegative)

	if *verifyOnly {
		if err := recompute.VerifyChain(ctx); err != nil {
			log.Fatalf("ledger verification failed: %v", err)
		}
		log.Println("ledger is consistent")
		return
	}

	var scope core.RecomputeScope
	if *products != "" {
		for _, part := range strings.Split(*products, ",") {
			id, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || id <= 0 {
				log.Fatalf("invalid product id %q", part)
			}
			scope.ProductIDs = append(scope.ProductIDs, id)
		}
	}

	res, err := recompute.Recompute(ctx, scope)
	if err != nil {
		log.Fatalf("recompute: %v", err)
	}
	log.Printf("recompute complete: %d invoices replayed, %d movements, %d snapshots, %d products",
		res.InvoicesReplayed, res.MovementsWritten, res.SnapshotsWritten, res.ProductsRecomputed)
}
