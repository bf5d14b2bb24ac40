package integration

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lora-pkt-fwd/internal/forwarder"
	"github.com/lorawan-server/lora-pkt-fwd/internal/models"
)

// NATS publishes on gateway.<eui>.<event> and takes downlinks from gateway.<eui>.tx
type NATS struct {
	nc        *nats.Conn
	gatewayID string
}

// NewNATS creates the NATS integration
func NewNATS(nc *nats.Conn, gatewayID string) *NATS {
	return &NATS{nc: nc, gatewayID: gatewayID}
}

func natsSubject(gatewayID, kind string) string {
	return fmt.Sprintf("gateway.%s.%s", gatewayID, kind)
}

func (n *NATS) publish(kind string, payload interface{}) {
	data, err := json.Marshal(newEvent(kind, n.gatewayID, payload))
	if err != nil {
		log.Error().Err(err).Msg("marshal NATS event")
		return
	}

	// Publish 只写入客户端缓冲区，不会阻塞
	if err := n.nc.Publish(natsSubject(n.gatewayID, kind), data); err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("publish to NATS")
	}
}

func (n *NATS) UplinkForwarded(_ context.Context, frame *models.UplinkFrame) {
	n.publish(EventUplink, frame)
}

func (n *NATS) DownlinkHandled(_ context.Context, res *models.DownlinkResult) {
	n.publish(EventTxAck, res)
}

func (n *NATS) StatsReported(_ context.Context, st *models.GatewayStats) {
	n.publish(EventStats, st)
}

// Run serves downlink commands until ctx is cancelled.
// A command sent as a request gets the admission result as reply.
func (n *NATS) Run(ctx context.Context, sub Submitter) error {
	subject := natsSubject(n.gatewayID, "tx")

	s, err := n.nc.Subscribe(subject, func(msg *nats.Msg) {
		go n.handleTx(ctx, sub, msg.Data, msg.Reply, msg.Respond)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	log.Info().Str("subject", subject).Msg("NATS downlink subscription started")

	<-ctx.Done()
	s.Unsubscribe()
	return nil
}

func (n *NATS) handleTx(ctx context.Context, sub Submitter, data []byte, reply string, respond func([]byte) error) {
	res := handleCommand(ctx, sub, forwarder.SourceNATS, data)
	if reply == "" {
		return
	}

	b, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := respond(b); err != nil {
		log.Warn().Err(err).Msg("NATS reply failed")
	}
}
