package db

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/coinjoin-coordinator/pkg/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for round auditing")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes the schema.sql file
func (s *PostgresStore) InitSchema() error {
	schemaBytes, err := os.ReadFile("internal/db/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %v", err)
	}

	_, err = s.pool.Exec(context.Background(), string(schemaBytes))
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Round audit schema initialized")
	return nil
}

// SaveRoundSummary persists one completed-round audit row. Round state
// itself never leaves coordinator memory; these rows are write-only
// operator history.
func (s *PostgresStore) SaveRoundSummary(ctx context.Context, summary models.RoundSummary) error {
	sql := `
		INSERT INTO round_audit
		(round_id, completed, fallback, alice_count, bob_count, denomination_sats, input_registration_ms, coinjoin_txid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''));
	`
	_, err := s.pool.Exec(ctx, sql,
		summary.RoundID,
		summary.Completed,
		summary.Fallback,
		summary.AliceCount,
		summary.BobCount,
		summary.Denomination,
		summary.InputRegistrationMs,
		summary.CoinJoinTxid,
	)
	if err != nil {
		return fmt.Errorf("failed to insert round_audit: %v", err)
	}
	return nil
}
