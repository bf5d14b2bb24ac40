package lorawan

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// EUI64 represents an 8-byte Extended Unique Identifier
type EUI64 [8]byte

// ParseEUI64 parses a 16 character hex string, separators ':' and '-' are ignored
func ParseEUI64(s string) (EUI64, error) {
	var e EUI64

	s = strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	b, err := hex.DecodeString(s)
	if err != nil {
		return e, fmt.Errorf("decode EUI64: %w", err)
	}
	if len(b) != 8 {
		return e, fmt.Errorf("invalid EUI64 length %d", len(b))
	}

	copy(e[:], b)
	return e, nil
}

// String returns hex string representation
func (e EUI64) String() string {
	return hex.EncodeToString(e[:])
}

// Halves returns the two 32-bit halves in network byte order
func (e EUI64) Halves() (uint32, uint32) {
	return binary.BigEndian.Uint32(e[0:4]), binary.BigEndian.Uint32(e[4:8])
}

// MarshalJSON implements json.Marshaler
func (e EUI64) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (e *EUI64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	v, err := ParseEUI64(s)
	if err != nil {
		return err
	}

	*e = v
	return nil
}
