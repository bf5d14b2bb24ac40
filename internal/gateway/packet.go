// Package gateway implements the Semtech UDP packet forwarder protocol, gateway side.
package gateway

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"

	"github.com/lorawan-server/lora-pkt-fwd/pkg/lorawan"
)

// Semtech UDP 协议常量
const (
	ProtocolVersion = 2

	HeaderSize = 12 // version + token + type + gateway EUI
	AckSize    = 4  // 服务器发出的报文不带网关 EUI
)

// PacketType is the identifier byte of a datagram
type PacketType byte

// 消息类型
const (
	PushData PacketType = 0x00
	PushAck  PacketType = 0x01
	PullData PacketType = 0x02
	PullResp PacketType = 0x03
	PullAck  PacketType = 0x04
	TxAck    PacketType = 0x05
)

func (t PacketType) String() string {
	switch t {
	case PushData:
		return "PUSH_DATA"
	case PushAck:
		return "PUSH_ACK"
	case PullData:
		return "PULL_DATA"
	case PullResp:
		return "PULL_RESP"
	case PullAck:
		return "PULL_ACK"
	case TxAck:
		return "TX_ACK"
	}
	return fmt.Sprintf("UNKNOWN(%d)", byte(t))
}

// hasEUI reports whether the gateway identifier follows the token and type
func (t PacketType) hasEUI() bool {
	return t == PushData || t == PullData || t == TxAck
}

// ErrInvalidPacket is returned for datagrams that must be ignored
var ErrInvalidPacket = errors.New("invalid packet")

// Packet is a decoded datagram
type Packet struct {
	Token      uint16
	Type       PacketType
	GatewayEUI lorawan.EUI64 // only for gateway originated types
	Payload    []byte        // JSON body, may be empty
}

// NewToken returns a random token for an outgoing datagram
func NewToken() uint16 {
	return uint16(rand.Intn(1 << 16))
}

// TokenBytes splits a token into its high and low byte
func TokenBytes(token uint16) [2]byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], token)
	return b
}

// MarshalBinary encodes the datagram
func (p Packet) MarshalBinary() ([]byte, error) {
	if p.Type > TxAck {
		return nil, fmt.Errorf("%w: type %d", ErrInvalidPacket, p.Type)
	}

	size := AckSize
	if p.Type.hasEUI() {
		size = HeaderSize
	}

	b := make([]byte, size, size+len(p.Payload))
	b[0] = ProtocolVersion
	binary.BigEndian.PutUint16(b[1:3], p.Token)
	b[3] = byte(p.Type)
	if p.Type.hasEUI() {
		hi, lo := p.GatewayEUI.Halves()
		binary.BigEndian.PutUint32(b[4:8], hi)
		binary.BigEndian.PutUint32(b[8:12], lo)
	}
	return append(b, p.Payload...), nil
}

// Decode parses a datagram. Any error means the datagram is to be ignored.
func Decode(b []byte) (Packet, error) {
	var p Packet

	if len(b) < AckSize {
		return p, fmt.Errorf("%w: %d bytes", ErrInvalidPacket, len(b))
	}
	if b[0] != ProtocolVersion {
		return p, fmt.Errorf("%w: version %d", ErrInvalidPacket, b[0])
	}

	p.Token = binary.BigEndian.Uint16(b[1:3])
	p.Type = PacketType(b[3])
	if p.Type > TxAck {
		return p, fmt.Errorf("%w: type %d", ErrInvalidPacket, b[3])
	}

	body := b[AckSize:]
	if p.Type.hasEUI() {
		if len(b) < HeaderSize {
			return p, fmt.Errorf("%w: %s without gateway EUI", ErrInvalidPacket, p.Type)
		}
		copy(p.GatewayEUI[:], b[4:12])
		body = b[HeaderSize:]
	}

	if len(body) > 0 {
		p.Payload = make([]byte, len(body))
		copy(p.Payload, body)
	}
	return p, nil
}
