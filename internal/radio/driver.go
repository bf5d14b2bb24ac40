package radio

import (
	"context"
	"errors"
	"time"

	"github.com/lorawan-server/lora-pkt-fwd/pkg/lorawan"
)

// MaxPayloadSize is the largest LoRa frame the transceiver FIFO holds
const MaxPayloadSize = 256

var (
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrClosed          = errors.New("radio closed")
)

// ChannelConfig is the receive channel the transceiver listens on
type ChannelConfig struct {
	Frequency    uint32 // Hz
	SpreadFactor int
	Bandwidth    uint32 // Hz
	CodingRate   int    // 4/x
	Preamble     int
	SyncWord     uint8
	Power        int // dBm
}

// RxPacket is a frame read out of the transceiver
type RxPacket struct {
	Payload []byte
	SNR     float64
	RSSI    float64
	CRCOk   bool
	NoCRC   bool
}

// TxPacket is a downlink ready for the transceiver
type TxPacket struct {
	Frequency    uint32 // Hz
	Power        int    // dBm
	SpreadFactor int
	Bandwidth    uint32 // Hz
	CodingRate   int    // 4/x
	Preamble     int
	NoCRC        bool
	InvertPol    bool
	Payload      []byte
	CountUs      uint32 // 集中器时钟 (微秒)
	Immediate    bool
}

// Modulation returns the airtime parameters of the packet
func (p TxPacket) Modulation() lorawan.Modulation {
	return lorawan.Modulation{
		SpreadFactor: p.SpreadFactor,
		Bandwidth:    p.Bandwidth,
		CodingRate:   p.CodingRate,
		Preamble:     p.Preamble,
		CRC:          !p.NoCRC,
	}
}

// TimeOnAir returns how long the transmission occupies the channel
func (p TxPacket) TimeOnAir() time.Duration {
	return p.Modulation().TimeOnAir(len(p.Payload))
}

// Driver is the register-level transceiver boundary.
// A Driver is not safe for concurrent use; the Arbitrator serialises every call.
type Driver interface {
	// Configure programs the receive channel parameters
	Configure(cfg ChannelConfig) error
	// StartReceive puts the transceiver in continuous receive mode
	StartReceive() error
	// Poll returns the pending frame if one is available
	Poll() (*RxPacket, bool, error)
	// Transmit sends the packet now and returns when transmission is complete
	Transmit(ctx context.Context, pkt TxPacket) error
	Close() error
}
