package forwarder

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lora-pkt-fwd/internal/gateway"
	"github.com/lorawan-server/lora-pkt-fwd/internal/models"
	"github.com/lorawan-server/lora-pkt-fwd/internal/ring"
	"github.com/lorawan-server/lora-pkt-fwd/pkg/lorawan"
)

// uplinkLoop drains the ring in reception order, one PUSH_DATA per frame
func (f *Forwarder) uplinkLoop(ctx context.Context) error {
	buf := make([]byte, 1024)

	for {
		frame, ok := f.ring.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-f.rxReady:
			case <-time.After(f.cfg.FetchSleep):
			}
			continue
		}

		f.forward(ctx, &frame, buf)
	}
}

func (f *Forwarder) rxpk(frame *ring.Frame, now time.Time) gateway.RXPK {
	ch := f.cfg.Channel
	stat := 1
	if frame.CRC == ring.CRCNone {
		stat = 0
	}

	return gateway.RXPK{
		Time: now,
		Tmst: frame.CountUs,
		Chan: 0,
		RFCh: 1,
		Freq: float64(ch.Frequency) / 1e6,
		Stat: stat,
		Modu: "LORA",
		DatR: lorawan.DataRate{SpreadFactor: ch.SpreadFactor, Bandwidth: ch.Bandwidth}.String(),
		CodR: lorawan.CodingRateString(ch.CodingRate),
		LSNR: frame.SNR,
		RSSI: frame.RSSI,
		Size: frame.Size,
		Data: frame.Bytes(),
	}
}

// forward sends one frame and waits up to push_timeout for its PUSH_ACK.
// The frame is not retried whatever the outcome.
func (f *Forwarder) forward(ctx context.Context, frame *ring.Frame, buf []byte) {
	now := time.Now().UTC()
	rxpk := f.rxpk(frame, now)

	body, err := json.Marshal(gateway.PushDataPayload{RXPK: []gateway.RXPK{rxpk}})
	if err != nil {
		log.Error().Err(err).Msg("marshal rxpk")
		return
	}

	token := gateway.NewToken()
	b, err := gateway.Packet{
		Token:      token,
		Type:       gateway.PushData,
		GatewayEUI: f.cfg.GatewayEUI,
		Payload:    body,
	}.MarshalBinary()
	if err != nil {
		log.Error().Err(err).Msg("encode PUSH_DATA")
		return
	}

	if err := f.link.sendUp(b); err != nil {
		log.Warn().Err(err).Msg("send PUSH_DATA failed")
		return
	}
	f.stats.Forwarded(frame.Size, len(b))

	acked := f.awaitPushAck(token, buf)
	if acked {
		f.stats.PushAck()
	}

	up := &models.UplinkFrame{
		ID:         uuid.New(),
		GatewayID:  f.cfg.GatewayEUI.String(),
		Tmst:       frame.CountUs,
		Frequency:  f.cfg.Channel.Frequency,
		DataRate:   rxpk.DatR,
		CodingRate: rxpk.CodR,
		RSSI:       frame.RSSI,
		SNR:        frame.SNR,
		CRC:        frame.CRC.String(),
		PHYPayload: rxpk.Data,
		Acked:      acked,
		ReceivedAt: now,
	}
	inspectPHY(up)

	log.Info().
		Hex("token", tokenHex(token)).
		Int("size", frame.Size).
		Str("mtype", up.MType).
		Str("dev_addr", up.DevAddr).
		Bool("acked", acked).
		Msg("PUSH_DATA sent")

	f.rec.UplinkForwarded(ctx, up)
}

// awaitPushAck reads the upstream socket until a PUSH_ACK carrying token
// arrives or push_timeout runs out. Anything else read meanwhile is dropped.
func (f *Forwarder) awaitPushAck(token uint16, buf []byte) bool {
	deadline := time.Now().Add(f.cfg.PushTimeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		n, err := f.link.readUp(buf, remaining)
		if err != nil {
			if !isTimeout(err) {
				log.Debug().Err(err).Msg("upstream read failed")
			}
			return false
		}

		p, err := gateway.Decode(buf[:n])
		if err != nil || p.Type != gateway.PushAck {
			continue
		}
		if p.Token != token {
			log.Debug().
				Hex("token", tokenHex(p.Token)).
				Hex("expected", tokenHex(token)).
				Msg("PUSH_ACK token mismatch")
			continue
		}
		return true
	}
}

func tokenHex(token uint16) []byte {
	b := gateway.TokenBytes(token)
	return b[:]
}
