package models

import (
	"time"

	"github.com/google/uuid"
)

// UplinkFrame represents a radio frame forwarded upstream
type UplinkFrame struct {
	ID        uuid.UUID `json:"id" db:"id"`
	GatewayID string    `json:"gatewayId" db:"gateway_id"`

	// RX info
	Tmst       uint32  `json:"tmst" db:"tmst"`
	Frequency  uint32  `json:"frequency" db:"frequency"`
	DataRate   string  `json:"dataRate" db:"data_rate"`
	CodingRate string  `json:"codingRate" db:"coding_rate"`
	RSSI       float64 `json:"rssi" db:"rssi"`
	SNR        float64 `json:"snr" db:"snr"`
	CRC        string  `json:"crc" db:"crc"`

	// PHY payload
	PHYPayload []byte `json:"phyPayload" db:"phy_payload"`

	// LoRaWAN 帧头，解析失败时为空
	MType   string  `json:"mType,omitempty" db:"m_type"`
	DevAddr string  `json:"devAddr,omitempty" db:"dev_addr"`
	DevEUI  string  `json:"devEUI,omitempty" db:"dev_eui"`
	FCnt    *uint32 `json:"fCnt,omitempty" db:"f_cnt"`
	FPort   *uint8  `json:"fPort,omitempty" db:"f_port"`

	// PUSH_ACK received within push_timeout
	Acked bool `json:"acked" db:"acked"`

	ReceivedAt time.Time `json:"receivedAt" db:"received_at"`
}

// DownlinkStatus is the state a downlink request ended in
type DownlinkStatus string

const (
	DownlinkQueued    DownlinkStatus = "QUEUED"
	DownlinkRejected  DownlinkStatus = "REJECTED"
	DownlinkMalformed DownlinkStatus = "MALFORMED"
	DownlinkSent      DownlinkStatus = "SENT"
	DownlinkFailed    DownlinkStatus = "FAILED"
)

// DownlinkResult represents the outcome of one downlink request
type DownlinkResult struct {
	ID        uuid.UUID `json:"id" db:"id"`
	GatewayID string    `json:"gatewayId" db:"gateway_id"`
	Source    string    `json:"source" db:"source"`
	Token     *uint16   `json:"token,omitempty" db:"token"` // PULL_RESP only

	// TX info
	Class     string `json:"class,omitempty" db:"class"`
	Immediate bool   `json:"immediate" db:"immediate"`
	CountUs   uint32 `json:"countUs" db:"count_us"`
	Frequency uint32 `json:"frequency" db:"frequency"`
	Power     int    `json:"power" db:"power"`
	DataRate  string `json:"dataRate,omitempty" db:"data_rate"`
	Size      int    `json:"size" db:"size"`

	// State
	Status DownlinkStatus `json:"status" db:"status"`
	Reason string         `json:"reason,omitempty" db:"reason"` // TX_ACK error
	Error  string         `json:"error,omitempty" db:"error"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
