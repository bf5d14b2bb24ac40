package lorawan

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDataRate   = errors.New("invalid datarate")
	ErrInvalidCodingRate = errors.New("invalid coding rate")
)

// LoRa 带宽 (Hz)
const (
	BW125 uint32 = 125000
	BW250 uint32 = 250000
	BW500 uint32 = 500000
)

// DataRate is a LoRa spreading factor / bandwidth pair
type DataRate struct {
	SpreadFactor int
	Bandwidth    uint32 // Hz
}

// String formats the datarate as used by the packet forwarder protocol, e.g. "SF7BW125"
func (d DataRate) String() string {
	return fmt.Sprintf("SF%dBW%d", d.SpreadFactor, d.Bandwidth/1000)
}

// ParseDataRate parses "SF%dBW%d"; SF 7..12, BW 125/250/500 kHz
func ParseDataRate(s string) (DataRate, error) {
	var sf, bw int
	n, err := fmt.Sscanf(s, "SF%dBW%d", &sf, &bw)
	if err != nil || n != 2 {
		return DataRate{}, fmt.Errorf("%w: %q", ErrInvalidDataRate, s)
	}

	if sf < 7 || sf > 12 {
		return DataRate{}, fmt.Errorf("%w: spreading factor %d", ErrInvalidDataRate, sf)
	}

	switch uint32(bw) * 1000 {
	case BW125, BW250, BW500:
	default:
		return DataRate{}, fmt.Errorf("%w: bandwidth %d", ErrInvalidDataRate, bw)
	}

	return DataRate{SpreadFactor: sf, Bandwidth: uint32(bw) * 1000}, nil
}

// 编码率字符串 -> 分母 (4/x)
var codingRates = map[string]int{
	"4/5": 5,
	"4/6": 6,
	"2/3": 6,
	"4/7": 7,
	"4/8": 8,
	"1/2": 8,
}

// ParseCodingRate returns the denominator of the 4/x coding rate
func ParseCodingRate(s string) (int, error) {
	if cr, ok := codingRates[s]; ok {
		return cr, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidCodingRate, s)
}

// CodingRateString formats a 4/x denominator
func CodingRateString(denominator int) string {
	return fmt.Sprintf("4/%d", denominator)
}
