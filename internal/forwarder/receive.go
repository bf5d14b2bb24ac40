package forwarder

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lora-pkt-fwd/internal/radio"
	"github.com/lorawan-server/lora-pkt-fwd/internal/ring"
)

// receiveLoop polls the radio and fills the ring. It never waits for the
// radio while a transmission holds it.
func (f *Forwarder) receiveLoop(ctx context.Context) error {
	lastRx := time.Now()

	for ctx.Err() == nil {
		if f.radio.Busy() {
			sleep(ctx, f.cfg.FetchSleep)
			continue
		}

		pkt, ok, err := f.radio.Receive(ctx)
		if err != nil {
			if errors.Is(err, radio.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("radio poll failed")
			sleep(ctx, f.cfg.FetchSleep)
			continue
		}

		if !ok {
			// 长时间无数据时重新进入接收模式
			if f.cfg.RxTimeout > 0 && time.Since(lastRx) > f.cfg.RxTimeout {
				if err := f.radio.Rearm(ctx); err != nil && ctx.Err() == nil {
					log.Error().Err(err).Msg("rx watchdog: rearm failed")
				}
				lastRx = time.Now()
			}
			sleep(ctx, f.cfg.FetchSleep)
			continue
		}

		lastRx = time.Now()
		f.store(pkt)
	}
	return nil
}

// store counts the frame and pushes it to the ring, frames with a bad CRC are dropped
func (f *Forwarder) store(pkt *radio.RxPacket) {
	countUs := f.clock.Now()

	crc := ring.CRCOk
	switch {
	case pkt.NoCRC:
		crc = ring.CRCNone
	case !pkt.CRCOk:
		crc = ring.CRCBad
	}
	f.stats.RxFrame(crc)

	if crc == ring.CRCBad {
		log.Debug().
			Int("size", len(pkt.Payload)).
			Float64("rssi", pkt.RSSI).
			Msg("丢弃 CRC 错误的帧")
		return
	}

	if f.ring.Push(pkt.Payload, pkt.SNR, pkt.RSSI, crc, countUs) {
		f.stats.RxDropped()
		log.Warn().Msg("receive ring full, oldest frame overwritten")
	}

	log.Debug().
		Int("size", len(pkt.Payload)).
		Float64("snr", pkt.SNR).
		Float64("rssi", pkt.RSSI).
		Uint32("tmst", countUs).
		Msg("frame received")

	select {
	case f.rxReady <- struct{}{}:
	default:
	}
}
