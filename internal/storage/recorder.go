package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lora-pkt-fwd/internal/models"
)

// Recorder writes forwarder events to a Store from its own goroutine.
// Events are dropped when the buffer is full so that the radio loops never wait on the database.
type Recorder struct {
	store   Store
	events  chan interface{}
	timeout time.Duration
}

// NewRecorder creates a recorder with room for buffer pending events
func NewRecorder(store Store, buffer int) *Recorder {
	return &Recorder{
		store:   store,
		events:  make(chan interface{}, buffer),
		timeout: 5 * time.Second,
	}
}

func (r *Recorder) enqueue(ev interface{}) {
	select {
	case r.events <- ev:
	default:
		log.Warn().Msgf("audit buffer full, %T dropped", ev)
	}
}

func (r *Recorder) UplinkForwarded(_ context.Context, frame *models.UplinkFrame) {
	r.enqueue(frame)
}

func (r *Recorder) DownlinkHandled(_ context.Context, res *models.DownlinkResult) {
	r.enqueue(res)
}

func (r *Recorder) StatsReported(_ context.Context, st *models.GatewayStats) {
	r.enqueue(st)
}

// Run writes events until ctx is cancelled
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.events:
			r.write(ctx, ev)
		}
	}
}

func (r *Recorder) write(ctx context.Context, ev interface{}) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var err error
	switch v := ev.(type) {
	case *models.UplinkFrame:
		err = r.store.SaveUplinkFrame(ctx, v)
	case *models.DownlinkResult:
		err = r.store.SaveDownlinkResult(ctx, v)
	case *models.GatewayStats:
		err = r.store.SaveGatewayStats(ctx, v)
	}
	if err != nil {
		log.Error().Err(err).Msgf("save %T", ev)
	}
}
