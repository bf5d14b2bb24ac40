package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lora-pkt-fwd/internal/models"
)

// HTTPConfig represents the webhook endpoint
type HTTPConfig struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// Webhook POSTs uplink and stats events as JSON
type Webhook struct {
	cfg        HTTPConfig
	gatewayID  string
	httpClient *http.Client
}

// NewWebhook creates the webhook integration
func NewWebhook(cfg HTTPConfig, gatewayID string) *Webhook {
	return &Webhook{
		cfg:        cfg,
		gatewayID:  gatewayID,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (w *Webhook) UplinkForwarded(_ context.Context, frame *models.UplinkFrame) {
	go w.post(newEvent(EventUplink, w.gatewayID, frame))
}

// DownlinkHandled is not forwarded, downlinks are reported on NATS and MQTT only
func (w *Webhook) DownlinkHandled(context.Context, *models.DownlinkResult) {}

func (w *Webhook) StatsReported(_ context.Context, st *models.GatewayStats) {
	go w.post(newEvent(EventStats, w.gatewayID, st))
}

func (w *Webhook) post(ev Event) {
	jsonData, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal webhook event")
		return
	}

	req, err := http.NewRequest(http.MethodPost, w.cfg.URL, bytes.NewReader(jsonData))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP request")
		return
	}

	// 设置 headers
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("endpoint", w.cfg.URL).Msg("Failed to forward event to HTTP")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Error().
			Int("status", resp.StatusCode).
			Str("endpoint", w.cfg.URL).
			Msg("HTTP forward failed")
		return
	}

	log.Debug().
		Str("type", ev.Type).
		Str("endpoint", w.cfg.URL).
		Msg("Event forwarded to HTTP")
}
