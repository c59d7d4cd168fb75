package main

import (
	"context"
	"log"
	"net/http"
	"os"

	webAdapter "stockbook/internal/adapters/web"
	"stockbook/internal/app"
	"stockbook/internal/core"
	"stockbook/internal/db"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	// Oversells are recorded and flagged unless strict mode is requested.
	allowNegative := os.Getenv("ALLOW_NEGATIVE_STOCK") != "false"

	posting := core.NewPostingService(pool, allowNegative)
	payments := core.NewPaymentService(pool)
	rates := core.NewRateService(pool)
	snapshots := core.NewSnapshotService(pool)
	recompute := core.NewRecomputeService(pool, allowNegative)
	reporting := core.NewReportingService(pool)

	svc := app.NewAppService(posting, payments, rates, snapshots, recompute, reporting)

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	handler := webAdapter.NewHandler(svc, allowedOrigins)

	log.Printf("server starting on :%s", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("server: %v", err)
	}
}
