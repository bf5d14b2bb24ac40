package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lora-pkt-fwd/internal/gateway"
	"github.com/lorawan-server/lora-pkt-fwd/internal/metrics"
	"github.com/lorawan-server/lora-pkt-fwd/internal/models"
	"github.com/lorawan-server/lora-pkt-fwd/pkg/lorawan"
)

// 下行请求来源
const (
	SourceServer = "server"
	SourceAPI    = "api"
	SourceNATS   = "nats"
	SourceMQTT   = "mqtt"
	SourceSpool  = "spool"
)

type submission struct {
	source string
	req    models.DownlinkRequest
	enc    gateway.PayloadEncoding
	// immediate 忽略 txpk 中的时间字段，按 class C 立即发送处理
	immediate bool
	done      chan *models.DownlinkResult
}

// Submit hands a locally injected downlink to the downlink poller and waits for its admission result
func (f *Forwarder) Submit(ctx context.Context, source string, req models.DownlinkRequest) (*models.DownlinkResult, error) {
	return f.submit(ctx, submission{source: source, req: req, enc: gateway.PayloadBase64})
}

func (f *Forwarder) submit(ctx context.Context, s submission) (*models.DownlinkResult, error) {
	s.done = make(chan *models.DownlinkResult, 1)

	select {
	case f.intake <- s:
	case <-f.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-s.done:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// downlinkLoop sends a PULL_DATA every keepalive interval and serves the
// downstream socket in between. It is the only producer of the JIT queue.
func (f *Forwarder) downlinkLoop(ctx context.Context) error {
	buf := make([]byte, 2048)
	missed := 0

	for ctx.Err() == nil {
		if f.cfg.AutoquitThreshold > 0 && missed >= f.cfg.AutoquitThreshold {
			log.Error().
				Int("threshold", f.cfg.AutoquitThreshold).
				Msg("no PULL_ACK received, giving up")
			return ErrAutoQuit
		}

		token := gateway.NewToken()
		if err := f.sendPullData(token); err != nil {
			log.Warn().Err(err).Msg("send PULL_DATA failed")
		} else {
			f.stats.PullSent()
		}
		missed++

		acked := false
		deadline := time.Now().Add(f.cfg.Keepalive)
		for time.Now().Before(deadline) {
			if ctx.Err() != nil {
				return nil
			}
			f.drainIntake(ctx)

			n, err := f.link.readDown(buf, f.cfg.PullTimeout)
			if err != nil {
				if isTimeout(err) {
					continue
				}
				log.Error().Err(err).Msg("downstream receive failed, reopening sockets")
				if err := f.link.reopen(); err != nil {
					return fmt.Errorf("reopen sockets: %w", err)
				}
				continue
			}

			p, err := gateway.Decode(buf[:n])
			if err != nil {
				continue
			}

			switch p.Type {
			case gateway.PullAck:
				if p.Token != token {
					log.Debug().
						Hex("token", tokenHex(p.Token)).
						Hex("expected", tokenHex(token)).
						Msg("PULL_ACK token mismatch")
					continue
				}
				if acked {
					log.Debug().Msg("duplicate PULL_ACK")
					continue
				}
				acked = true
				missed = 0
				f.stats.PullAck()
				log.Debug().Hex("token", tokenHex(token)).Msg("PULL_ACK received")

			case gateway.PullResp:
				f.handlePullResp(ctx, p, n)
			}
		}
	}
	return nil
}

func (f *Forwarder) sendPullData(token uint16) error {
	b, err := gateway.Packet{
		Token:      token,
		Type:       gateway.PullData,
		GatewayEUI: f.cfg.GatewayEUI,
	}.MarshalBinary()
	if err != nil {
		return err
	}
	return f.link.sendDown(b)
}

func (f *Forwarder) drainIntake(ctx context.Context) {
	for {
		select {
		case s := <-f.intake:
			s.done <- f.handleSubmission(ctx, s)
		default:
			return
		}
	}
}

func (f *Forwarder) newResult(source string) *models.DownlinkResult {
	return &models.DownlinkResult{
		ID:        uuid.New(),
		GatewayID: f.cfg.GatewayEUI.String(),
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
}

// handlePullResp parses a PULL_RESP, admits it and answers with a TX_ACK.
// A malformed body gets no TX_ACK.
func (f *Forwarder) handlePullResp(ctx context.Context, p gateway.Packet, size int) {
	res := f.newResult(SourceServer)
	token := p.Token
	res.Token = &token

	dl, err := gateway.ParsePullResp(p.Payload, f.cfg.DefaultPower, gateway.PayloadBase64)
	if errors.Is(err, gateway.ErrMalformed) {
		log.Warn().Err(err).Hex("token", tokenHex(token)).Msg("PULL_RESP ignored")
		res.Status = models.DownlinkMalformed
		res.Error = err.Error()
		f.record(ctx, res)
		return
	}
	f.stats.PullResp(size, len(dl.Packet.Payload))

	reason := f.admit(ctx, res, dl, err)

	b, err := gateway.Packet{
		Token:      token,
		Type:       gateway.TxAck,
		GatewayEUI: f.cfg.GatewayEUI,
		Payload:    gateway.TxAckBody(reason),
	}.MarshalBinary()
	if err == nil {
		err = f.link.sendDown(b)
	}
	if err != nil {
		log.Warn().Err(err).Msg("send TX_ACK failed")
	}
}

func (f *Forwarder) handleSubmission(ctx context.Context, s submission) *models.DownlinkResult {
	res := f.newResult(s.source)
	if s.req.ID != uuid.Nil {
		res.ID = s.req.ID
	}

	var (
		dl  gateway.Downlink
		err error
		t   gateway.TXPK
	)
	if err = json.Unmarshal(s.req.TXPK, &t); err != nil {
		err = fmt.Errorf("%w: %v", gateway.ErrMalformed, err)
	} else {
		if s.immediate {
			imme := true
			t.Imme = &imme
		}
		dl, err = t.Downlink(f.cfg.DefaultPower, s.enc)
	}

	if errors.Is(err, gateway.ErrMalformed) {
		log.Warn().Err(err).Str("source", s.source).Msg("downlink request ignored")
		res.Status = models.DownlinkMalformed
		res.Error = err.Error()
		f.record(ctx, res)
		r := *res
		return &r
	}

	f.admit(ctx, res, dl, err)
	r := *res
	return &r
}

// admit runs the band checks and the JIT admission, it returns the TX_ACK reason
func (f *Forwarder) admit(ctx context.Context, res *models.DownlinkResult, dl gateway.Downlink, err error) string {
	f.stats.TxRequested(res.Source)

	pkt := dl.Packet
	res.Class = dl.Class.String()
	res.Immediate = pkt.Immediate
	res.CountUs = pkt.CountUs
	res.Frequency = pkt.Frequency
	res.Power = pkt.Power
	res.Size = len(pkt.Payload)
	if pkt.SpreadFactor > 0 {
		res.DataRate = lorawan.DataRate{SpreadFactor: pkt.SpreadFactor, Bandwidth: pkt.Bandwidth}.String()
	}

	if err == nil {
		err = f.cfg.Limits.Check(&pkt)
	}

	if err != nil {
		return f.reject(ctx, res, err)
	}

	// 入队与登记在同一把锁下完成，调度器取到条目时结果已登记
	f.pendingMu.Lock()
	entry, err := f.queue.Enqueue(f.clock.Now(), pkt, dl.Class)
	if err == nil {
		res.Status = models.DownlinkQueued
		res.CountUs = entry.Instant
		f.pending[entry.ID] = res
	}
	f.pendingMu.Unlock()

	if err != nil {
		return f.reject(ctx, res, err)
	}

	metrics.JitQueueGauge.Set(float64(f.queue.Len()))
	log.Info().
		Str("source", res.Source).
		Str("class", res.Class).
		Uint32("instant", entry.Instant).
		Uint32("freq", pkt.Frequency).
		Int("size", len(pkt.Payload)).
		Msg("downlink queued")

	f.record(ctx, res)
	return ""
}

func (f *Forwarder) reject(ctx context.Context, res *models.DownlinkResult, err error) string {
	reason := gateway.AckReason(err)
	f.stats.TxRejected(reason)

	res.Status = models.DownlinkRejected
	res.Reason = reason
	res.Error = err.Error()

	log.Warn().
		Err(err).
		Str("source", res.Source).
		Str("reason", reason).
		Msg("downlink rejected")

	f.record(ctx, res)
	return reason
}
