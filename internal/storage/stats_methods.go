package storage

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/lorawan-server/lora-pkt-fwd/internal/models"
)

// SaveGatewayStats stores one statistics interval
func (s *PostgresStore) SaveGatewayStats(ctx context.Context, st *models.GatewayStats) error {
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}

	var lat, lon sql.NullFloat64
	var alt sql.NullInt32
	if st.Location != nil {
		lat = sql.NullFloat64{Float64: st.Location.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: st.Location.Longitude, Valid: true}
		alt = sql.NullInt32{Int32: int32(st.Location.Altitude), Valid: true}
	}

	query := `
        INSERT INTO gateway_stats (
            id, gateway_id, time, latitude, longitude, altitude,
            rx_packets_received, rx_packets_valid, rx_packets_forwarded,
            tx_packets_received, tx_packets_emitted, push_ack_ratio,
            pull_ack_ratio, metadata
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.db.ExecContext(ctx, query,
		st.ID, st.GatewayID, st.Time, lat, lon, alt,
		int64(st.RXPacketsReceived), int64(st.RXPacketsValid), int64(st.RXPacketsForwarded),
		int64(st.TXPacketsReceived), int64(st.TXPacketsEmitted), st.PushAckRatio,
		st.PullAckRatio, st.Metadata,
	)

	return err
}

// ListGatewayStats lists the most recent intervals
func (s *PostgresStore) ListGatewayStats(ctx context.Context, limit int) ([]*models.GatewayStats, error) {
	query := `
        SELECT id, gateway_id, time, latitude, longitude, altitude,
               rx_packets_received, rx_packets_valid, rx_packets_forwarded,
               tx_packets_received, tx_packets_emitted, push_ack_ratio,
               pull_ack_ratio, metadata
        FROM gateway_stats
        ORDER BY time DESC
        LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.GatewayStats
	for rows.Next() {
		st := &models.GatewayStats{}
		var (
			lat, lon                             sql.NullFloat64
			alt                                  sql.NullInt32
			rxRcv, rxOk, rxFwd, txRcv, txEmitted int64
		)

		err := rows.Scan(
			&st.ID, &st.GatewayID, &st.Time, &lat, &lon, &alt,
			&rxRcv, &rxOk, &rxFwd, &txRcv, &txEmitted,
			&st.PushAckRatio, &st.PullAckRatio, &st.Metadata,
		)
		if err != nil {
			return nil, err
		}

		if lat.Valid {
			st.Location = &models.Location{Latitude: lat.Float64, Longitude: lon.Float64, Altitude: int(alt.Int32)}
		}
		st.RXPacketsReceived = uint32(rxRcv)
		st.RXPacketsValid = uint32(rxOk)
		st.RXPacketsForwarded = uint32(rxFwd)
		st.TXPacketsReceived = uint32(txRcv)
		st.TXPacketsEmitted = uint32(txEmitted)

		list = append(list, st)
	}

	return list, rows.Err()
}
