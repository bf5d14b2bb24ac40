package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lora-pkt-fwd/internal/jit"
	"github.com/lorawan-server/lora-pkt-fwd/internal/radio"
	"github.com/lorawan-server/lora-pkt-fwd/pkg/lorawan"
)

// 前导码长度
const (
	MinPreamble = 6
	StdPreamble = 8
)

var (
	// ErrMalformed means the body must be dropped without a TX_ACK
	ErrMalformed = errors.New("malformed txpk")
	// ErrGPSUnlocked is returned for GPS timed requests, which a gateway without GPS cannot serve
	ErrGPSUnlocked = errors.New("gps unlocked")
	ErrTxFreq      = errors.New("tx frequency out of range")
	ErrTxPower     = errors.New("tx power not supported")
)

// Downlink is a parsed txpk ready for the JIT queue
type Downlink struct {
	Packet radio.TxPacket
	Class  jit.PacketType
}

// PayloadEncoding tells how txpk.data is carried
type PayloadEncoding int

const (
	// PayloadBase64 is the network server encoding
	PayloadBase64 PayloadEncoding = iota
	// PayloadText is used by spool files, data is sent as is
	PayloadText
)

// ParsePullResp parses a PULL_RESP (or spool file) body
func ParsePullResp(body []byte, defaultPower int, enc PayloadEncoding) (Downlink, error) {
	var p PullRespPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Downlink{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.TXPK == nil {
		return Downlink{}, fmt.Errorf("%w: no txpk object", ErrMalformed)
	}
	return p.TXPK.Downlink(defaultPower, enc)
}

func missing(field string) error {
	return fmt.Errorf("%w: no mandatory txpk.%s", ErrMalformed, field)
}

// Downlink validates the request and converts it to radio parameters.
// Timing is classified first: imme, then tmst, then GPS time.
func (t *TXPK) Downlink(defaultPower int, enc PayloadEncoding) (Downlink, error) {
	var dl Downlink
	pkt := &dl.Packet

	switch {
	case t.Imme != nil && *t.Imme:
		pkt.Immediate = true
		dl.Class = jit.ClassC
	case t.Tmst != nil:
		pkt.CountUs = *t.Tmst
		dl.Class = jit.ClassA
	case t.Tmms != nil || t.Time != nil:
		return dl, ErrGPSUnlocked
	default:
		pkt.Immediate = true
		dl.Class = jit.ClassC
	}

	if t.Modu != "" && t.Modu != "LORA" {
		return dl, fmt.Errorf("%w: modulation %s not supported", ErrMalformed, t.Modu)
	}

	if t.Freq == nil {
		return dl, missing("freq")
	}
	pkt.Frequency = uint32(math.Round(*t.Freq * 1e6))

	pkt.Power = defaultPower
	if t.Powe != nil {
		pkt.Power = *t.Powe
	}

	if t.DatR == nil {
		return dl, missing("datr")
	}
	dr, err := lorawan.ParseDataRate(*t.DatR)
	if err != nil {
		return dl, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	pkt.SpreadFactor = dr.SpreadFactor
	pkt.Bandwidth = dr.Bandwidth

	if t.CodR == nil {
		return dl, missing("codr")
	}
	if pkt.CodingRate, err = lorawan.ParseCodingRate(*t.CodR); err != nil {
		return dl, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if t.IPol != nil {
		pkt.InvertPol = *t.IPol
	}
	if t.NCRC != nil {
		pkt.NoCRC = *t.NCRC
	}

	pkt.Preamble = StdPreamble
	if t.Prea != nil {
		pkt.Preamble = *t.Prea
		if pkt.Preamble < MinPreamble {
			pkt.Preamble = MinPreamble
		}
	}

	if t.Data == nil {
		return dl, missing("data")
	}

	switch enc {
	case PayloadText:
		pkt.Payload = []byte(*t.Data)
	default:
		if t.Size == nil {
			return dl, missing("size")
		}
		if pkt.Payload, err = base64.StdEncoding.DecodeString(*t.Data); err != nil {
			return dl, fmt.Errorf("%w: txpk.data: %v", ErrMalformed, err)
		}
		if len(pkt.Payload) != *t.Size {
			log.Warn().
				Int("size", *t.Size).
				Int("decoded", len(pkt.Payload)).
				Msg("txpk.size 与 data 解码后的长度不一致")
		}
	}

	if len(pkt.Payload) > radio.MaxPayloadSize {
		return dl, fmt.Errorf("%w: payload of %d bytes", ErrMalformed, len(pkt.Payload))
	}
	return dl, nil
}

// TxLimits are the band limits a downlink is checked against before it is queued
type TxLimits struct {
	FreqMin  uint32 // Hz
	FreqMax  uint32 // Hz
	MaxPower int    // dBm
}

// Check returns ErrTxFreq or ErrTxPower when the packet is outside the limits
func (l TxLimits) Check(pkt *radio.TxPacket) error {
	if pkt.Frequency < l.FreqMin || pkt.Frequency > l.FreqMax {
		return fmt.Errorf("%w: %d Hz", ErrTxFreq, pkt.Frequency)
	}
	if pkt.Power > l.MaxPower {
		return fmt.Errorf("%w: %d dBm", ErrTxPower, pkt.Power)
	}
	return nil
}

// AckReason maps an admission error to its TX_ACK error string; nil maps to ""
func AckReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, jit.ErrCollisionPacket), errors.Is(err, jit.ErrFull):
		return ReasonCollisionPacket
	case errors.Is(err, jit.ErrTooLate):
		return ReasonTooLate
	case errors.Is(err, jit.ErrTooEarly):
		return ReasonTooEarly
	case errors.Is(err, jit.ErrCollisionBeacon):
		return ReasonCollisionBeacon
	case errors.Is(err, ErrTxFreq):
		return ReasonTxFreq
	case errors.Is(err, ErrTxPower):
		return ReasonTxPower
	case errors.Is(err, ErrGPSUnlocked):
		return ReasonGPSUnlocked
	}
	return ReasonUnknown
}
