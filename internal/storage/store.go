package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/lorawan-server/lora-pkt-fwd/internal/models"
)

// Common errors
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidData = errors.New("invalid data")
)

// Store keeps the forwarder audit trail
type Store interface {
	// Frame methods
	SaveUplinkFrame(ctx context.Context, frame *models.UplinkFrame) error
	ListUplinkFrames(ctx context.Context, limit, offset int) ([]*models.UplinkFrame, int64, error)

	// SaveDownlinkResult inserts the result or updates the status of an existing one
	SaveDownlinkResult(ctx context.Context, res *models.DownlinkResult) error
	GetDownlinkResult(ctx context.Context, id uuid.UUID) (*models.DownlinkResult, error)
	ListDownlinkResults(ctx context.Context, limit, offset int) ([]*models.DownlinkResult, int64, error)

	// Stats methods
	SaveGatewayStats(ctx context.Context, st *models.GatewayStats) error
	ListGatewayStats(ctx context.Context, limit int) ([]*models.GatewayStats, error)

	// Close the store
	Close() error
}
