package radio

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

type job struct {
	fn   func(Driver) error
	done chan error
}

// Arbitrator owns the single transceiver. Every radio operation runs as a job
// on the owner goroutine, so configure, receive setup and transmit never interleave.
type Arbitrator struct {
	drv     Driver
	channel ChannelConfig
	jobs    chan job
	inUse   atomic.Int32
	stopped chan struct{}
}

// NewArbitrator wraps drv; Run must be started before any job is submitted
func NewArbitrator(drv Driver, channel ChannelConfig) *Arbitrator {
	return &Arbitrator{
		drv:     drv,
		channel: channel,
		jobs:    make(chan job),
		stopped: make(chan struct{}),
	}
}

// Run configures the radio for reception and serves jobs until ctx is cancelled
func (a *Arbitrator) Run(ctx context.Context) error {
	defer close(a.stopped)

	if err := a.rearm(); err != nil {
		return err
	}

	log.Info().
		Uint32("freq", a.channel.Frequency).
		Int("sf", a.channel.SpreadFactor).
		Uint32("bw", a.channel.Bandwidth).
		Msg("射频已就绪，进入接收模式")

	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-a.jobs:
			j.done <- j.fn(a.drv)
		}
	}
}

// rearm 重新配置信道并进入接收模式
func (a *Arbitrator) rearm() error {
	if err := a.drv.Configure(a.channel); err != nil {
		return err
	}
	return a.drv.StartReceive()
}

// Do runs fn on the owner goroutine and waits for its result
func (a *Arbitrator) Do(ctx context.Context, fn func(Driver) error) error {
	j := job{fn: fn, done: make(chan error, 1)}

	select {
	case a.jobs <- j:
	case <-a.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	// 任务一旦被接收就不可中断，等待其完成
	return <-j.done
}

// Busy reports whether a transmission is queued or in flight.
// The receive loop polls it instead of contending for the radio.
func (a *Arbitrator) Busy() bool {
	return a.inUse.Load() > 0
}

// Transmit waits out delay on the owner goroutine, sends pkt, then puts the radio back in receive mode
func (a *Arbitrator) Transmit(ctx context.Context, pkt TxPacket, delay time.Duration) error {
	if len(pkt.Payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}

	a.inUse.Add(1)
	defer a.inUse.Add(-1)

	return a.Do(ctx, func(d Driver) error {
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}

		txErr := d.Transmit(ctx, pkt)
		if err := a.rearm(); err != nil {
			log.Error().Err(err).Msg("发送后恢复接收模式失败")
		}
		return txErr
	})
}

// Receive polls the radio for one frame
func (a *Arbitrator) Receive(ctx context.Context) (*RxPacket, bool, error) {
	var (
		pkt *RxPacket
		ok  bool
	)
	err := a.Do(ctx, func(d Driver) error {
		var err error
		pkt, ok, err = d.Poll()
		return err
	})
	return pkt, ok, err
}

// Rearm reconfigures the receive channel, used by the receive watchdog
func (a *Arbitrator) Rearm(ctx context.Context) error {
	return a.Do(ctx, func(Driver) error {
		return a.rearm()
	})
}
