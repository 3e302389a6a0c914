package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/comanda-pos/api/internal/config"
	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/folio"
	"github.com/comanda-pos/api/internal/receipt"
	"github.com/comanda-pos/api/internal/router"
	"github.com/comanda-pos/api/internal/service"
	"github.com/comanda-pos/api/internal/ws"
	"github.com/comanda-pos/api/pkg/logging"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	logging.Setup()
	log := slog.Default()
	cfg := config.Load()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("unable to create connection pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Error("unable to ping database", "error", err)
		os.Exit(1)
	}
	queries := database.New(pool)

	hub := ws.NewHub()
	go hub.Run()

	// Folio sync is optional; without a base URL sessions simply never push
	// to a guest folio.
	var folioSync service.FolioSync
	if cfg.FolioBaseURL != "" {
		client := folio.NewHTTPClient(cfg.FolioBaseURL, cfg.FolioAPIKey)
		folioSync = folio.NewSyncer(client, queries, log)
	}

	var receipts receipt.Sink = receipt.NewLogSink(log)
	if cfg.PrinterAddr != "" {
		receipts = receipt.NewTCPSink(cfg.PrinterAddr)
	}

	r := router.New(cfg, queries, pool, hub, folioSync, receipts, log)

	log.Info("starting server", "port", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
