package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/lora-pkt-fwd/internal/models"
)

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// SaveUplinkFrame creates an uplink frame record
func (s *PostgresStore) SaveUplinkFrame(ctx context.Context, frame *models.UplinkFrame) error {
	if frame.ID == uuid.Nil {
		frame.ID = uuid.New()
	}

	if frame.ReceivedAt.IsZero() {
		frame.ReceivedAt = time.Now()
	}

	var fCnt sql.NullInt64
	if frame.FCnt != nil {
		fCnt = sql.NullInt64{Int64: int64(*frame.FCnt), Valid: true}
	}
	var fPort sql.NullInt16
	if frame.FPort != nil {
		fPort = sql.NullInt16{Int16: int16(*frame.FPort), Valid: true}
	}

	query := `
        INSERT INTO uplink_frames (
            id, gateway_id, tmst, frequency, data_rate, coding_rate,
            rssi, snr, crc, phy_payload, m_type, dev_addr, dev_eui,
            f_cnt, f_port, acked, received_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := s.db.ExecContext(ctx, query,
		frame.ID, frame.GatewayID, int64(frame.Tmst), int64(frame.Frequency),
		frame.DataRate, frame.CodingRate, frame.RSSI, frame.SNR, frame.CRC,
		frame.PHYPayload, nullString(frame.MType), nullString(frame.DevAddr),
		nullString(frame.DevEUI), fCnt, fPort, frame.Acked, frame.ReceivedAt,
	)

	return err
}

// ListUplinkFrames lists the most recent uplink frames
func (s *PostgresStore) ListUplinkFrames(ctx context.Context, limit, offset int) ([]*models.UplinkFrame, int64, error) {
	// Get count
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM uplink_frames").Scan(&count); err != nil {
		return nil, 0, err
	}

	// Get rows
	query := `
        SELECT id, gateway_id, tmst, frequency, data_rate, coding_rate,
               rssi, snr, crc, phy_payload, m_type, dev_addr, dev_eui,
               f_cnt, f_port, acked, received_at
        FROM uplink_frames
        ORDER BY received_at DESC
        LIMIT $1 OFFSET $2`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var frames []*models.UplinkFrame
	for rows.Next() {
		frame := &models.UplinkFrame{}
		var (
			tmst, freq             int64
			mType, devAddr, devEUI sql.NullString
			fCnt                   sql.NullInt64
			fPort                  sql.NullInt16
		)

		err := rows.Scan(
			&frame.ID, &frame.GatewayID, &tmst, &freq, &frame.DataRate,
			&frame.CodingRate, &frame.RSSI, &frame.SNR, &frame.CRC,
			&frame.PHYPayload, &mType, &devAddr, &devEUI, &fCnt, &fPort,
			&frame.Acked, &frame.ReceivedAt,
		)
		if err != nil {
			return nil, 0, err
		}

		frame.Tmst = uint32(tmst)
		frame.Frequency = uint32(freq)
		frame.MType = mType.String
		frame.DevAddr = devAddr.String
		frame.DevEUI = devEUI.String
		if fCnt.Valid {
			v := uint32(fCnt.Int64)
			frame.FCnt = &v
		}
		if fPort.Valid {
			v := uint8(fPort.Int16)
			frame.FPort = &v
		}

		frames = append(frames, frame)
	}

	return frames, count, rows.Err()
}

// SaveDownlinkResult creates the result record, later calls update its status
func (s *PostgresStore) SaveDownlinkResult(ctx context.Context, res *models.DownlinkResult) error {
	if res.ID == uuid.Nil {
		return ErrInvalidData
	}

	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now()
	}

	var token sql.NullInt32
	if res.Token != nil {
		token = sql.NullInt32{Int32: int32(*res.Token), Valid: true}
	}

	query := `
        INSERT INTO downlink_results (
            id, gateway_id, source, token, class, immediate, count_us,
            frequency, power, data_rate, size, status, reason, error,
            created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now())
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status, error = EXCLUDED.error, updated_at = now()`

	_, err := s.db.ExecContext(ctx, query,
		res.ID, res.GatewayID, res.Source, token, nullString(res.Class),
		res.Immediate, int64(res.CountUs), int64(res.Frequency), res.Power,
		nullString(res.DataRate), res.Size, string(res.Status),
		nullString(res.Reason), nullString(res.Error), res.CreatedAt,
	)

	return err
}

const downlinkColumns = `id, gateway_id, source, token, class, immediate, count_us,
               frequency, power, data_rate, size, status, reason, error, created_at`

func scanDownlink(row interface{ Scan(...interface{}) error }) (*models.DownlinkResult, error) {
	res := &models.DownlinkResult{}
	var (
		token                           sql.NullInt32
		class, dataRate, reason, errStr sql.NullString
		countUs, freq                   int64
		status                          string
	)

	err := row.Scan(
		&res.ID, &res.GatewayID, &res.Source, &token, &class, &res.Immediate,
		&countUs, &freq, &res.Power, &dataRate, &res.Size, &status, &reason,
		&errStr, &res.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if token.Valid {
		v := uint16(token.Int32)
		res.Token = &v
	}
	res.Class = class.String
	res.CountUs = uint32(countUs)
	res.Frequency = uint32(freq)
	res.DataRate = dataRate.String
	res.Status = models.DownlinkStatus(status)
	res.Reason = reason.String
	res.Error = errStr.String
	return res, nil
}

// GetDownlinkResult gets a downlink result by id
func (s *PostgresStore) GetDownlinkResult(ctx context.Context, id uuid.UUID) (*models.DownlinkResult, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+downlinkColumns+" FROM downlink_results WHERE id = $1", id)

	res, err := scanDownlink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return res, err
}

// ListDownlinkResults lists the most recent downlink results
func (s *PostgresStore) ListDownlinkResults(ctx context.Context, limit, offset int) ([]*models.DownlinkResult, int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM downlink_results").Scan(&count); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+downlinkColumns+" FROM downlink_results ORDER BY created_at DESC LIMIT $1 OFFSET $2",
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []*models.DownlinkResult
	for rows.Next() {
		res, err := scanDownlink(rows)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, res)
	}

	return results, count, rows.Err()
}
