package lorawan

import "time"

// Modulation describes the LoRa parameters that drive the time on air
type Modulation struct {
	SpreadFactor int
	Bandwidth    uint32 // Hz
	CodingRate   int    // 4/x 的分母, 5..8
	Preamble     int
	CRC          bool
	ImplicitHead bool
}

// SymbolPeriod returns the duration of one LoRa symbol
func (m Modulation) SymbolPeriod() time.Duration {
	if m.Bandwidth == 0 {
		return 0
	}
	return time.Second * time.Duration(int64(1)<<uint(m.SpreadFactor)) / time.Duration(m.Bandwidth)
}

// lowDataRateOptimize follows the SX127x rule: mandated once a symbol lasts 16ms or more
func (m Modulation) lowDataRateOptimize() bool {
	return m.SymbolPeriod() >= 16*time.Millisecond
}

// TimeOnAir returns the transmit duration of a payload of the given length.
// The 4.25 preamble symbols of the datasheet are rounded up to 5, so the
// result slightly overestimates, which is the safe side for scheduling.
func (m Modulation) TimeOnAir(payloadLength int) time.Duration {
	if m.Bandwidth == 0 || m.SpreadFactor == 0 {
		return 0
	}

	var crc, ih, ldr int64
	if m.CRC {
		crc = 1
	}
	if m.ImplicitHead {
		ih = 1
	}
	if m.lowDataRateOptimize() {
		ldr = 1
	}

	cr := int64(m.CodingRate - 4)
	if cr < 1 {
		cr = 1
	}
	sf := int64(m.SpreadFactor)

	// SX1276 datasheet p.31
	nPayload := 8*int64(payloadLength) - 4*sf + 28 + 16*crc - 20*ih
	div := 4 * (sf - 2*ldr)
	if nPayload < 0 || div <= 0 {
		nPayload = 0
	} else {
		nPayload = (nPayload + div - 1) / div
		nPayload *= cr + 4
	}
	nSymbols := nPayload + 8 + int64(m.Preamble) + 5

	return time.Second * time.Duration(nSymbols<<uint(sf)) / time.Duration(m.Bandwidth)
}
