// Package integration publishes forwarder events to NATS, MQTT and HTTP,
// and accepts downlink requests from NATS and MQTT.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lora-pkt-fwd/internal/models"
)

// 事件类型
const (
	EventUplink = "rx"
	EventTxAck  = "txack"
	EventStats  = "stat"
)

// Event is the envelope of every published message
type Event struct {
	Type      string      `json:"type"`
	GatewayID string      `json:"gatewayId"`
	Time      time.Time   `json:"time"`
	Payload   interface{} `json:"payload"`
}

func newEvent(typ, gatewayID string, payload interface{}) Event {
	return Event{Type: typ, GatewayID: gatewayID, Time: time.Now().UTC(), Payload: payload}
}

// Submitter accepts locally injected downlinks
type Submitter interface {
	Submit(ctx context.Context, source string, req models.DownlinkRequest) (*models.DownlinkResult, error)
}

// CommandResult answers a downlink command
type CommandResult struct {
	Result *models.DownlinkResult `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// handleCommand decodes a {"id":..,"txpk":{..}} command and submits it
func handleCommand(ctx context.Context, sub Submitter, source string, data []byte) CommandResult {
	var req models.DownlinkRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Warn().Err(err).Str("source", source).Msg("invalid downlink command")
		return CommandResult{Error: fmt.Sprintf("invalid command: %v", err)}
	}
	if len(req.TXPK) == 0 {
		return CommandResult{Error: "invalid command: no txpk object"}
	}

	res, err := sub.Submit(ctx, source, req)
	if err != nil {
		log.Error().Err(err).Str("source", source).Msg("submit downlink")
		return CommandResult{Error: err.Error()}
	}
	return CommandResult{Result: res}
}
