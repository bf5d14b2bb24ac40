package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store interface for PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// PoolConfig sizes the connection pool
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPostgresStore opens the database and creates the audit tables
func NewPostgresStore(ctx context.Context, dsn string, pool PoolConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// 审计表，启动时自动创建
var schema = []string{
	`CREATE TABLE IF NOT EXISTS uplink_frames (
        id UUID PRIMARY KEY,
        gateway_id TEXT NOT NULL,
        tmst BIGINT NOT NULL,
        frequency BIGINT NOT NULL,
        data_rate TEXT NOT NULL,
        coding_rate TEXT NOT NULL,
        rssi DOUBLE PRECISION NOT NULL,
        snr DOUBLE PRECISION NOT NULL,
        crc TEXT NOT NULL,
        phy_payload BYTEA NOT NULL,
        m_type TEXT,
        dev_addr TEXT,
        dev_eui TEXT,
        f_cnt BIGINT,
        f_port SMALLINT,
        acked BOOLEAN NOT NULL,
        received_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS uplink_frames_received_at ON uplink_frames (received_at DESC)`,
	`CREATE TABLE IF NOT EXISTS downlink_results (
        id UUID PRIMARY KEY,
        gateway_id TEXT NOT NULL,
        source TEXT NOT NULL,
        token INTEGER,
        class TEXT,
        immediate BOOLEAN NOT NULL,
        count_us BIGINT NOT NULL,
        frequency BIGINT NOT NULL,
        power INTEGER NOT NULL,
        data_rate TEXT,
        size INTEGER NOT NULL,
        status TEXT NOT NULL,
        reason TEXT,
        error TEXT,
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS downlink_results_created_at ON downlink_results (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS gateway_stats (
        id UUID PRIMARY KEY,
        gateway_id TEXT NOT NULL,
        time TIMESTAMPTZ NOT NULL,
        latitude DOUBLE PRECISION,
        longitude DOUBLE PRECISION,
        altitude INTEGER,
        rx_packets_received BIGINT NOT NULL,
        rx_packets_valid BIGINT NOT NULL,
        rx_packets_forwarded BIGINT NOT NULL,
        tx_packets_received BIGINT NOT NULL,
        tx_packets_emitted BIGINT NOT NULL,
        push_ack_ratio DOUBLE PRECISION NOT NULL,
        pull_ack_ratio DOUBLE PRECISION NOT NULL,
        metadata JSONB
    )`,
}
