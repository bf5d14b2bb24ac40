package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// DownlinkRequest is a downlink submitted locally (API, NATS or MQTT).
// TXPK carries the same object as a PULL_RESP txpk, data in base64.
type DownlinkRequest struct {
	ID   uuid.UUID       `json:"id"`
	TXPK json.RawMessage `json:"txpk"`
}
