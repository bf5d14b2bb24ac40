package forwarder

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lora-pkt-fwd/internal/gateway"
)

// statsLoop reports and resets the counters every stat interval
func (f *Forwarder) statsLoop(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.StatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.report(ctx)
		}
	}
}

func (f *Forwarder) report(ctx context.Context) {
	r := f.stats.Snapshot()
	r.Log()

	st := r.Stat(f.cfg.Identity)
	body, err := json.Marshal(gateway.PushDataPayload{Stat: &st})
	if err != nil {
		log.Error().Err(err).Msg("marshal stat")
		return
	}

	b, err := gateway.Packet{
		Token:      gateway.NewToken(),
		Type:       gateway.PushData,
		GatewayEUI: f.cfg.GatewayEUI,
		Payload:    body,
	}.MarshalBinary()
	if err == nil {
		err = f.link.sendUp(b)
	}
	if err != nil {
		log.Warn().Err(err).Msg("send status report failed")
	}

	f.rec.StatsReported(ctx, r.Record(f.cfg.GatewayEUI.String(), f.cfg.Identity))
}
