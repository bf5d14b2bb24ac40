package forwarder

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lora-pkt-fwd/internal/jit"
	"github.com/lorawan-server/lora-pkt-fwd/internal/metrics"
	"github.com/lorawan-server/lora-pkt-fwd/internal/models"
	"github.com/lorawan-server/lora-pkt-fwd/internal/radio"
)

// dispatchLoop is the only consumer of the JIT queue
func (f *Forwarder) dispatchLoop(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for f.dispatchNext(ctx) {
			}
		}
	}
}

// dispatchNext transmits the earliest due entry, it reports whether one was due
func (f *Forwarder) dispatchNext(ctx context.Context) bool {
	id, err := f.queue.Peek(f.clock.Now())
	if err != nil {
		return false
	}

	e, err := f.queue.Dequeue(id)
	if err != nil {
		log.Error().Err(err).Uint64("id", id).Msg("JIT entry vanished between peek and dequeue")
		return false
	}
	metrics.JitQueueGauge.Set(float64(f.queue.Len()))

	f.transmit(ctx, e)
	return true
}

func (f *Forwarder) transmit(ctx context.Context, e jit.Entry) {
	// 在射频任务内等待到发送时刻减去启动时间
	delay := radio.Until(f.clock, e.Instant) - f.queue.Config().StartDelay
	if delay < 0 {
		delay = 0
	}

	err := f.radio.Transmit(ctx, e.Packet, delay)
	f.stats.TxDone(err)

	if err != nil {
		log.Error().
			Err(err).
			Uint64("id", e.ID).
			Uint32("instant", e.Instant).
			Msg("downlink transmission failed")
	} else {
		log.Info().
			Uint64("id", e.ID).
			Str("class", e.Type.String()).
			Uint32("instant", e.Instant).
			Uint32("freq", e.Packet.Frequency).
			Int("size", len(e.Packet.Payload)).
			Dur("airtime", e.Airtime).
			Msg("downlink transmitted")
	}

	f.pendingMu.Lock()
	res, ok := f.pending[e.ID]
	delete(f.pending, e.ID)
	f.pendingMu.Unlock()
	if !ok {
		return
	}

	r := *res
	r.Status = models.DownlinkSent
	if err != nil {
		r.Status = models.DownlinkFailed
		r.Error = err.Error()
	}
	f.rec.DownlinkHandled(ctx, &r)
}
