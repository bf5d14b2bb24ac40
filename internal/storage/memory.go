package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/lorawan-server/lora-pkt-fwd/internal/models"
)

// MemoryStore keeps the most recent records in memory, used when no database is configured
type MemoryStore struct {
	mu        sync.RWMutex
	limit     int
	uplinks   []*models.UplinkFrame // 最新的在前
	downlinks []*models.DownlinkResult
	stats     []*models.GatewayStats
}

// NewMemoryStore keeps up to limit records of each kind
func NewMemoryStore(limit int) *MemoryStore {
	if limit < 1 {
		limit = 100
	}
	return &MemoryStore{limit: limit}
}

func prepend[T any](list []T, v T, limit int) []T {
	list = append([]T{v}, list...)
	if len(list) > limit {
		list = list[:limit]
	}
	return list
}

func page[T any](list []T, limit, offset int) []T {
	if offset >= len(list) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(list) {
		end = len(list)
	}
	return append([]T(nil), list[offset:end]...)
}

func (s *MemoryStore) SaveUplinkFrame(_ context.Context, frame *models.UplinkFrame) error {
	if frame.ID == uuid.Nil {
		frame.ID = uuid.New()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.uplinks = prepend(s.uplinks, frame, s.limit)
	return nil
}

func (s *MemoryStore) ListUplinkFrames(_ context.Context, limit, offset int) ([]*models.UplinkFrame, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.uplinks, limit, offset), int64(len(s.uplinks)), nil
}

func (s *MemoryStore) SaveDownlinkResult(_ context.Context, res *models.DownlinkResult) error {
	if res.ID == uuid.Nil {
		return ErrInvalidData
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.downlinks {
		if existing.ID == res.ID {
			existing.Status = res.Status
			existing.Error = res.Error
			return nil
		}
	}
	s.downlinks = prepend(s.downlinks, res, s.limit)
	return nil
}

func (s *MemoryStore) GetDownlinkResult(_ context.Context, id uuid.UUID) (*models.DownlinkResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, res := range s.downlinks {
		if res.ID == id {
			r := *res
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListDownlinkResults(_ context.Context, limit, offset int) ([]*models.DownlinkResult, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.downlinks, limit, offset), int64(len(s.downlinks)), nil
}

func (s *MemoryStore) SaveGatewayStats(_ context.Context, st *models.GatewayStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = prepend(s.stats, st, s.limit)
	return nil
}

func (s *MemoryStore) ListGatewayStats(_ context.Context, limit int) ([]*models.GatewayStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.stats, limit, 0), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
