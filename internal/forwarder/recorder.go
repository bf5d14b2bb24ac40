package forwarder

import (
	"context"

	"github.com/lorawan-server/lora-pkt-fwd/internal/models"
)

// MultiRecorder fans events out to every recorder in order
type MultiRecorder []Recorder

func (m MultiRecorder) UplinkForwarded(ctx context.Context, frame *models.UplinkFrame) {
	for _, r := range m {
		f := *frame
		r.UplinkForwarded(ctx, &f)
	}
}

func (m MultiRecorder) DownlinkHandled(ctx context.Context, res *models.DownlinkResult) {
	for _, r := range m {
		d := *res
		r.DownlinkHandled(ctx, &d)
	}
}

func (m MultiRecorder) StatsReported(ctx context.Context, st *models.GatewayStats) {
	for _, r := range m {
		s := *st
		r.StatsReported(ctx, &s)
	}
}
