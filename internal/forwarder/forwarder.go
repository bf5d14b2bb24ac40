// Package forwarder runs the packet forwarder workers: radio receive, uplink,
// downlink polling, JIT dispatch, statistics and the optional spool pusher.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/lorawan-server/lora-pkt-fwd/internal/config"
	"github.com/lorawan-server/lora-pkt-fwd/internal/gateway"
	"github.com/lorawan-server/lora-pkt-fwd/internal/jit"
	"github.com/lorawan-server/lora-pkt-fwd/internal/models"
	"github.com/lorawan-server/lora-pkt-fwd/internal/radio"
	"github.com/lorawan-server/lora-pkt-fwd/internal/ring"
	"github.com/lorawan-server/lora-pkt-fwd/internal/stats"
	"github.com/lorawan-server/lora-pkt-fwd/pkg/lorawan"
)

var (
	// ErrAutoQuit is returned by Run when too many PULL_DATA went unacknowledged
	ErrAutoQuit = errors.New("auto-quit threshold reached")
	// ErrStopped is returned by Submit once Run has returned
	ErrStopped = errors.New("forwarder stopped")
)

// Config holds the forwarder settings
type Config struct {
	GatewayEUI lorawan.EUI64
	Identity   stats.Identity

	ServerAddress     string
	PortUp            int
	PortDown          int
	Keepalive         time.Duration
	StatInterval      time.Duration
	PushTimeout       time.Duration
	PullTimeout       time.Duration
	AutoquitThreshold int // 0 disables

	Channel      radio.ChannelConfig
	DefaultPower int
	Limits       gateway.TxLimits
	RxTimeout    time.Duration
	FetchSleep   time.Duration
	RingSize     int

	JIT          jit.Config
	PollInterval time.Duration

	SpoolEnabled  bool
	SpoolPath     string
	SpoolInterval time.Duration
}

// NewConfig maps the loaded configuration
func NewConfig(c *config.Config) (Config, error) {
	eui, err := c.Gateway.EUI()
	if err != nil {
		return Config{}, fmt.Errorf("gateway id: %w", err)
	}

	return Config{
		GatewayEUI: eui,
		Identity: stats.Identity{
			Latitude:    c.Gateway.RefLatitude,
			Longitude:   c.Gateway.RefLongitude,
			Altitude:    c.Gateway.RefAltitude,
			Platform:    c.Gateway.Platform,
			Email:       c.Gateway.Email,
			Description: c.Gateway.Description,
		},
		ServerAddress:     c.Server.Address,
		PortUp:            c.Server.PortUp,
		PortDown:          c.Server.PortDown,
		Keepalive:         c.Server.KeepaliveInterval,
		StatInterval:      c.Server.StatInterval,
		PushTimeout:       c.Server.PushTimeout,
		PullTimeout:       c.Server.PullTimeout,
		AutoquitThreshold: c.Server.AutoquitThreshold,
		Channel: radio.ChannelConfig{
			Frequency:    c.Radio.Frequency,
			SpreadFactor: c.Radio.SpreadFactor,
			Bandwidth:    c.Radio.Bandwidth,
			CodingRate:   c.Radio.CodingRate,
			Preamble:     c.Radio.Preamble,
			SyncWord:     c.Radio.SyncWord,
			Power:        c.Radio.Power,
		},
		DefaultPower: c.Radio.Power,
		Limits: gateway.TxLimits{
			FreqMin:  c.Radio.TxFreqMin,
			FreqMax:  c.Radio.TxFreqMax,
			MaxPower: c.Radio.TxPowerMax,
		},
		RxTimeout:  c.Radio.RxTimeout,
		FetchSleep: c.Radio.FetchSleep,
		RingSize:   c.Radio.RingSize,
		JIT: jit.Config{
			Capacity:    c.JIT.Capacity,
			StartDelay:  c.JIT.StartDelay,
			MarginDelay: c.JIT.MarginDelay,
			JitDelay:    c.JIT.JitDelay,
			MaxAdvance:  c.JIT.MaxAdvance,
		},
		PollInterval:  c.JIT.PollInterval,
		SpoolEnabled:  c.Spool.Enabled,
		SpoolPath:     c.Spool.Path,
		SpoolInterval: c.Spool.Interval,
	}, nil
}

// Recorder receives what the forwarder did. It is called from the worker
// loops, implementations must hand the work off instead of blocking.
type Recorder interface {
	UplinkForwarded(ctx context.Context, frame *models.UplinkFrame)
	DownlinkHandled(ctx context.Context, res *models.DownlinkResult)
	StatsReported(ctx context.Context, st *models.GatewayStats)
}

type nopRecorder struct{}

func (nopRecorder) UplinkForwarded(context.Context, *models.UplinkFrame)    {}
func (nopRecorder) DownlinkHandled(context.Context, *models.DownlinkResult) {}
func (nopRecorder) StatsReported(context.Context, *models.GatewayStats)     {}

// Forwarder connects the radio to the network server
type Forwarder struct {
	cfg   Config
	radio *radio.Arbitrator
	clock radio.Clock
	ring  *ring.Ring
	queue *jit.Queue
	stats *stats.Aggregator
	rec   Recorder

	link    *link
	rxReady chan struct{}
	intake  chan submission
	done    chan struct{}

	// 已入队下行的结果，发送完成后更新
	pendingMu sync.Mutex
	pending   map[uint64]*models.DownlinkResult
}

// New creates a forwarder; rec may be nil
func New(cfg Config, arb *radio.Arbitrator, clock radio.Clock, rec Recorder) *Forwarder {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Forwarder{
		cfg:     cfg,
		radio:   arb,
		clock:   clock,
		ring:    ring.New(cfg.RingSize),
		queue:   jit.NewQueue(cfg.JIT),
		stats:   stats.New(),
		rec:     rec,
		rxReady: make(chan struct{}, 1),
		intake:  make(chan submission),
		done:    make(chan struct{}),
		pending: make(map[uint64]*models.DownlinkResult),
	}
}

// Run dials the server and runs every worker until ctx is cancelled or one of them fails
func (f *Forwarder) Run(ctx context.Context) error {
	defer close(f.done)

	l, err := dialLink(f.cfg.ServerAddress, f.cfg.PortUp, f.cfg.PortDown)
	if err != nil {
		return err
	}
	defer l.close()
	f.link = l

	log.Info().
		Str("gateway", f.cfg.GatewayEUI.String()).
		Str("server", f.cfg.ServerAddress).
		Int("port_up", f.cfg.PortUp).
		Int("port_down", f.cfg.PortDown).
		Msg("packet forwarder started")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.radio.Run(ctx) })
	g.Go(func() error { return f.receiveLoop(ctx) })
	g.Go(func() error { return f.uplinkLoop(ctx) })
	g.Go(func() error { return f.downlinkLoop(ctx) })
	g.Go(func() error { return f.dispatchLoop(ctx) })
	g.Go(func() error { return f.statsLoop(ctx) })
	if f.cfg.SpoolEnabled {
		g.Go(func() error { return f.spoolLoop(ctx) })
	}

	return g.Wait()
}

// Stats returns the counters of the running interval
func (f *Forwarder) Stats() stats.Report {
	return f.stats.Current()
}

// Queue returns the admitted downlinks in dispatch order
func (f *Forwarder) Queue() []jit.Entry {
	return f.queue.Entries()
}

// GatewayEUI returns the gateway identifier
func (f *Forwarder) GatewayEUI() lorawan.EUI64 {
	return f.cfg.GatewayEUI
}

// record hands the recorder its own copy of res
func (f *Forwarder) record(ctx context.Context, res *models.DownlinkResult) {
	r := *res
	f.rec.DownlinkHandled(ctx, &r)
}

// sleep waits d or until ctx is done, it reports whether the worker should go on
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
