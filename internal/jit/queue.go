// Package jit is the just-in-time downlink queue. Requests are admitted against
// the concentrator clock and every already admitted window, so a conflict is
// reported to the network server in the same round trip that proposed it.
package jit

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/lorawan-server/lora-pkt-fwd/internal/radio"
)

var (
	ErrTooLate         = errors.New("too late")
	ErrTooEarly        = errors.New("too early")
	ErrCollisionPacket = errors.New("collision with a queued packet")
	ErrCollisionBeacon = errors.New("collision with a beacon")
	ErrFull            = errors.New("queue full")
	ErrEmpty           = errors.New("queue empty")
	ErrNotQueued       = errors.New("entry not queued")
)

// PacketType is the downlink class of an entry
type PacketType uint8

const (
	ClassA PacketType = iota // timestamped
	ClassC                   // immediate
	Beacon
)

func (t PacketType) String() string {
	switch t {
	case ClassA:
		return "A"
	case ClassC:
		return "C"
	case Beacon:
		return "BEACON"
	}
	return "UNKNOWN"
}

// Config holds the admission constants
type Config struct {
	Capacity    int
	StartDelay  time.Duration // 射频从待机到发射的启动时间
	MarginDelay time.Duration // 相邻发送之间的保护间隔
	JitDelay    time.Duration // 调度器轮询抖动
	MaxAdvance  time.Duration
}

// DefaultConfig returns the constants of the reference forwarder
func DefaultConfig() Config {
	return Config{
		Capacity:    32,
		StartDelay:  1500 * time.Microsecond,
		MarginDelay: time.Millisecond,
		JitDelay:    30 * time.Millisecond,
		MaxAdvance:  3 * 128 * time.Second,
	}
}

// DispatchMargin is how far ahead of its instant an entry must be admitted and is released
func (c Config) DispatchMargin() time.Duration {
	return c.StartDelay + c.MarginDelay + c.JitDelay
}

// Entry is an admitted downlink
type Entry struct {
	ID       uint64
	Packet   radio.TxPacket
	Type     PacketType
	Instant  uint32 // count_us at which transmission starts
	Airtime  time.Duration
	Admitted uint32
}

// Queue is safe for concurrent use
type Queue struct {
	mu      sync.Mutex
	cfg     Config
	entries []Entry // 按发送时刻升序
	nextID  uint64
}

// NewQueue creates an empty queue
func NewQueue(cfg Config) *Queue {
	if cfg.Capacity < 1 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	return &Queue{cfg: cfg, entries: make([]Entry, 0, cfg.Capacity)}
}

// Config returns the admission constants
func (q *Queue) Config() Config {
	return q.cfg
}

func us(d time.Duration) int64 {
	return d.Microseconds()
}

// diff is the signed distance from a to b on the wrapping microsecond counter
func diff(b, a uint32) int64 {
	return int64(int32(b - a))
}

// window returns the guarded occupation of an entry relative to now
func (q *Queue) window(now, instant uint32, airtime time.Duration) (int64, int64) {
	start := diff(instant, now) - us(q.cfg.StartDelay) - us(q.cfg.MarginDelay)
	end := diff(instant, now) + us(airtime) + us(q.cfg.MarginDelay)
	return start, end
}

// collides returns the collision error for the window [start, end) relative to now
func (q *Queue) collides(now uint32, start, end int64) error {
	for i := range q.entries {
		e := &q.entries[i]
		es, ee := q.window(now, e.Instant, e.Airtime)
		if start < ee && es < end {
			if e.Type == Beacon {
				return ErrCollisionBeacon
			}
			return ErrCollisionPacket
		}
	}
	return nil
}

// Enqueue admits pkt or returns the rejection reason. Immediate class C
// packets are given the earliest free instant; their Packet.CountUs is set to it.
// On rejection the queue is unchanged.
func (q *Queue) Enqueue(now uint32, pkt radio.TxPacket, typ PacketType) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	margin := us(q.cfg.DispatchMargin())
	maxAdvance := us(q.cfg.MaxAdvance)
	airtime := pkt.TimeOnAir()

	if pkt.Immediate && typ == ClassC {
		if len(q.entries) >= q.cfg.Capacity {
			return Entry{}, ErrFull
		}
		instant, ok := q.firstFree(now, airtime)
		if !ok {
			return Entry{}, ErrTooEarly
		}
		pkt.CountUs = instant
		return q.insert(now, pkt, typ, airtime), nil
	}

	d := diff(pkt.CountUs, now)
	if d < margin {
		return Entry{}, ErrTooLate
	}
	if d > maxAdvance {
		return Entry{}, ErrTooEarly
	}
	if len(q.entries) >= q.cfg.Capacity {
		return Entry{}, ErrFull
	}

	start, end := q.window(now, pkt.CountUs, airtime)
	if err := q.collides(now, start, end); err != nil {
		return Entry{}, err
	}

	return q.insert(now, pkt, typ, airtime), nil
}

// firstFree finds the earliest instant at or after now+margin whose window is clear
func (q *Queue) firstFree(now uint32, airtime time.Duration) (uint32, bool) {
	margin := us(q.cfg.DispatchMargin())
	guardBefore := us(q.cfg.StartDelay) + us(q.cfg.MarginDelay)

	candidate := margin
	for {
		if candidate > us(q.cfg.MaxAdvance) {
			return 0, false
		}
		instant := now + uint32(candidate)
		start, end := q.window(now, instant, airtime)
		if q.collides(now, start, end) == nil {
			return instant, true
		}

		// 跳到与之冲突的最晚条目之后
		next := candidate
		for i := range q.entries {
			e := &q.entries[i]
			es, ee := q.window(now, e.Instant, e.Airtime)
			if start < ee && es < end && ee+guardBefore > next {
				next = ee + guardBefore
			}
		}
		if next <= candidate {
			return 0, false
		}
		candidate = next
	}
}

func (q *Queue) insert(now uint32, pkt radio.TxPacket, typ PacketType, airtime time.Duration) Entry {
	q.nextID++
	e := Entry{
		ID:       q.nextID,
		Packet:   pkt,
		Type:     typ,
		Instant:  pkt.CountUs,
		Airtime:  airtime,
		Admitted: now,
	}

	d := diff(e.Instant, now)
	i := sort.Search(len(q.entries), func(i int) bool {
		return diff(q.entries[i].Instant, now) > d
	})
	q.entries = append(q.entries, Entry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = e
	return e
}

// Peek returns the id of the earliest entry due for dispatch, without removing it
func (q *Queue) Peek(now uint32) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return 0, ErrEmpty
	}

	e := &q.entries[0]
	if diff(e.Instant, now) > us(q.cfg.DispatchMargin()) {
		return 0, ErrEmpty
	}
	return e.ID, nil
}

// Dequeue removes and returns the entry with the given id
func (q *Queue) Dequeue(id uint64) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.entries {
		if q.entries[i].ID == id {
			e := q.entries[i]
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return e, nil
		}
	}
	return Entry{}, ErrNotQueued
}

// Len returns the number of admitted entries
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Entries returns a copy of the queue in dispatch order
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}
