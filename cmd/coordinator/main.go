package main

import (
	"context"
	"log"
	"os"

	"github.com/rawblock/coinjoin-coordinator/internal/api"
	"github.com/rawblock/coinjoin-coordinator/internal/bitcoin"
	"github.com/rawblock/coinjoin-coordinator/internal/config"
	"github.com/rawblock/coinjoin-coordinator/internal/db"
	"github.com/rawblock/coinjoin-coordinator/internal/rates"
	"github.com/rawblock/coinjoin-coordinator/internal/round"
)

func main() {
	log.Println("Starting RawBlock CoinJoin Coordinator...")

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	// ─── Backends ───────────────────────────────────────────────────────
	// The coordinator degrades rather than refuses to start: without a
	// database there is no audit trail, without the node fees fall back to
	// the configured floor and inputs are admitted unchecked.
	// ────────────────────────────────────────────────────────────────────

	var auditSink round.AuditSink
	if dbUrl := os.Getenv("DATABASE_URL"); dbUrl != "" {
		dbConn, err := db.Connect(dbUrl)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without round auditing. Error: %v", err)
		} else {
			defer dbConn.Close()
			if err := dbConn.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
			auditSink = dbConn
		}
	}

	btcHost := getEnvOrDefault("BTC_RPC_HOST", "localhost:8332")
	btcUser := requireEnv("BTC_RPC_USER")
	btcPass := requireEnv("BTC_RPC_PASS")

	var feeSource round.FeeRateSource
	var inputChecker round.InputChecker
	btcClient, err := bitcoin.NewClient(bitcoin.Config{
		Host: btcHost,
		User: btcUser,
		Pass: btcPass,
	})
	if err != nil {
		log.Printf("Warning: Failed to connect to Bitcoin RPC: %v. Fees fall back to %d sat/byte and inputs are admitted unchecked.",
			err, cfg.FallbackSatPerByte)
	} else {
		defer btcClient.Shutdown()
		feeSource = btcClient
		inputChecker = btcClient
	}

	var rateSource round.RateSource
	if ratesURL := os.Getenv("EXCHANGE_RATE_URL"); ratesURL != "" {
		rateSource = rates.NewClient(ratesURL)
	} else if cfg.DenominationAlgorithm == config.DenominationFixedUSD {
		log.Println("Warning: EXCHANGE_RATE_URL is not set; FixedUsd rounds will use the configured BTC denomination")
	}

	// Setup WebSocket Hub
	wsHub := api.NewHub()
	go wsHub.Run()

	// Setup and start the phase scheduler
	coordinator := round.NewCoordinator(cfg, feeSource, rateSource, wsHub, auditSink)
	if inputChecker != nil {
		coordinator.SetInputChecker(inputChecker)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coordinator.Run(ctx)

	// Setup the Gin Router
	r := api.SetupRouter(coordinator, wsHub)

	port := getEnvOrDefault("PORT", "5340")

	log.Printf("Coordinator running on :%s\n", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// requireEnv reads a required environment variable and exits if it is not set.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set.", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
