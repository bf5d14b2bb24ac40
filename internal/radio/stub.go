package radio

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// StubDriver is an in-memory transceiver for tests and for running without hardware.
// Frames queued with Inject come out of Poll; transmitted packets are recorded.
type StubDriver struct {
	mu         sync.Mutex
	channel    ChannelConfig
	receiving  bool
	rx         []RxPacket
	sent       []TxPacket
	configured int
	TxErr      error
	TxDuration bool // sleep for the packet airtime on Transmit
}

// NewStubDriver creates an idle stub
func NewStubDriver() *StubDriver {
	return &StubDriver{}
}

// Inject queues a frame as if it had been demodulated
func (s *StubDriver) Inject(pkt RxPacket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rx = append(s.rx, pkt)
}

// Sent returns a copy of the transmitted packets
func (s *StubDriver) Sent() []TxPacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TxPacket, len(s.sent))
	copy(out, s.sent)
	return out
}

// Configured returns how many times the channel was programmed
func (s *StubDriver) Configured() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configured
}

func (s *StubDriver) Configure(cfg ChannelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channel = cfg
	s.receiving = false
	s.configured++
	return nil
}

func (s *StubDriver) StartReceive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiving = true
	return nil
}

func (s *StubDriver) Poll() (*RxPacket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.receiving || len(s.rx) == 0 {
		return nil, false, nil
	}

	pkt := s.rx[0]
	s.rx = s.rx[1:]
	return &pkt, true, nil
}

func (s *StubDriver) Transmit(ctx context.Context, pkt TxPacket) error {
	if s.TxDuration {
		select {
		case <-time.After(pkt.TimeOnAir()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.TxErr != nil {
		return s.TxErr
	}

	s.receiving = false
	s.sent = append(s.sent, pkt)

	log.Debug().
		Uint32("freq", pkt.Frequency).
		Int("size", len(pkt.Payload)).
		Msg("stub radio: packet transmitted")
	return nil
}

func (s *StubDriver) Close() error {
	return nil
}
