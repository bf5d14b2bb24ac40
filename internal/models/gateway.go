package models

import (
	"time"

	"github.com/google/uuid"
)

// Location represents a geographic location
type Location struct {
	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`
	Altitude  int     `json:"altitude" db:"altitude"`
}

// GatewayStats represents one statistics interval
type GatewayStats struct {
	ID        uuid.UUID `json:"id" db:"id"`
	GatewayID string    `json:"gatewayId" db:"gateway_id"`
	Time      time.Time `json:"time" db:"time"`

	Location *Location `json:"location,omitempty" db:"location"`

	// Packets
	RXPacketsReceived  uint32  `json:"rxPacketsReceived" db:"rx_packets_received"`
	RXPacketsValid     uint32  `json:"rxPacketsValid" db:"rx_packets_valid"`
	RXPacketsForwarded uint32  `json:"rxPacketsForwarded" db:"rx_packets_forwarded"`
	TXPacketsReceived  uint32  `json:"txPacketsReceived" db:"tx_packets_received"`
	TXPacketsEmitted   uint32  `json:"txPacketsEmitted" db:"tx_packets_emitted"`
	PushAckRatio       float64 `json:"pushAckRatio" db:"push_ack_ratio"`
	PullAckRatio       float64 `json:"pullAckRatio" db:"pull_ack_ratio"`

	// 全部计数器
	Metadata Variables `json:"metadata,omitempty" db:"metadata"`
}
