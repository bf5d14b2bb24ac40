// Package ring holds received radio frames between the receive loop and the uplink engine.
//
// The ring is lossy: when every slot is occupied, Push overwrites the oldest
// unconsumed frame and reports it, so a stalled uplink never blocks the radio.
package ring

import (
	"sync"
)

// MaxPayload is the largest frame a slot stores
const MaxPayload = 256

// CRC status of a received frame
type CRCStatus uint8

const (
	CRCOk CRCStatus = iota
	CRCBad
	CRCNone
)

func (c CRCStatus) String() string {
	switch c {
	case CRCOk:
		return "ok"
	case CRCBad:
		return "bad"
	}
	return "none"
}

// Frame is one ring slot
type Frame struct {
	Payload  [MaxPayload]byte
	Size     int
	SNR      float64
	RSSI     float64
	CRC      CRCStatus
	CountUs  uint32 // 接收时刻 (集中器时钟)
	Occupied bool
}

// Bytes returns the used part of the payload
func (f *Frame) Bytes() []byte {
	return f.Payload[:f.Size]
}

// Ring is a fixed-capacity circular buffer of frames
type Ring struct {
	mu    sync.Mutex
	slots []Frame
	rd    int
	wr    int
}

// New allocates every slot up front
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{slots: make([]Frame, capacity)}
}

// Cap returns the number of slots
func (r *Ring) Cap() int {
	return len(r.slots)
}

// Len returns the number of occupied slots
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for i := range r.slots {
		if r.slots[i].Occupied {
			n++
		}
	}
	return n
}

// Clean resets slot i
func (r *Ring) Clean(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clean(i)
}

func (r *Ring) clean(i int) {
	s := &r.slots[i]
	s.Payload = [MaxPayload]byte{}
	s.Size = 0
	s.SNR = 0
	s.RSSI = 0
	s.CRC = CRCOk
	s.CountUs = 0
	s.Occupied = false
}

// Push stores a frame in the next slot. Payloads longer than MaxPayload are truncated.
// It returns true when the oldest unconsumed frame had to be overwritten.
func (r *Ring) Push(payload []byte, snr, rssi float64, crc CRCStatus, countUs uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &r.slots[r.wr]
	overwrote := s.Occupied
	if overwrote {
		// 写指针追上读指针，丢弃最旧的一帧
		r.rd = (r.rd + 1) % len(r.slots)
	}

	r.clean(r.wr)
	s.Size = copy(s.Payload[:], payload)
	s.SNR = snr
	s.RSSI = rssi
	s.CRC = crc
	s.CountUs = countUs
	s.Occupied = true

	r.wr = (r.wr + 1) % len(r.slots)
	return overwrote
}

// Pop copies out the oldest occupied frame and cleans its slot
func (r *Ring) Pop() (Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &r.slots[r.rd]
	if !s.Occupied {
		return Frame{}, false
	}

	f := *s
	r.clean(r.rd)
	r.rd = (r.rd + 1) % len(r.slots)
	return f, true
}
