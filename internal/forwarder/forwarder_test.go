package forwarder

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lora-pkt-fwd/internal/gateway"
	"github.com/lorawan-server/lora-pkt-fwd/internal/jit"
	"github.com/lorawan-server/lora-pkt-fwd/internal/models"
	"github.com/lorawan-server/lora-pkt-fwd/internal/radio"
	"github.com/lorawan-server/lora-pkt-fwd/pkg/lorawan"
)

var testEUI = lorawan.EUI64{0xaa, 0x55, 0x5a, 0x00, 0x00, 0x00, 0x00, 0x01}

type fakeClock struct {
	now atomic.Uint32
}

func newFakeClock(now uint32) *fakeClock {
	c := &fakeClock{}
	c.now.Store(now)
	return c
}

func (c *fakeClock) Now() uint32 {
	return c.now.Load()
}

// fakeServer plays the network server on two loopback sockets
type fakeServer struct {
	up   *net.UDPConn
	down *net.UDPConn
}

func newFakeServer(t *testing.T) *fakeServer {
	listen := func() *net.UDPConn {
		c, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		require.NoError(t, err)
		t.Cleanup(func() { c.Close() })
		return c
	}
	return &fakeServer{up: listen(), down: listen()}
}

func port(c *net.UDPConn) int {
	return c.LocalAddr().(*net.UDPAddr).Port
}

// expect reads conn until a datagram of type typ arrives
func expect(t *testing.T, conn *net.UDPConn, typ gateway.PacketType) (gateway.Packet, *net.UDPAddr) {
	t.Helper()

	buf := make([]byte, 4096)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		require.NoError(t, err)
		p, err := gateway.Decode(buf[:n])
		if err == nil && p.Type == typ {
			return p, addr
		}
	}
}

func send(t *testing.T, conn *net.UDPConn, addr *net.UDPAddr, p gateway.Packet) {
	t.Helper()

	b, err := p.MarshalBinary()
	require.NoError(t, err)
	_, err = conn.WriteToUDP(b, addr)
	require.NoError(t, err)
}

func pullResp(token uint16, txpk string) gateway.Packet {
	return gateway.Packet{Token: token, Type: gateway.PullResp, Payload: []byte(`{"txpk":` + txpk + `}`)}
}

type recorder struct {
	mu        sync.Mutex
	uplinks   []models.UplinkFrame
	downlinks []models.DownlinkResult
	stats     []models.GatewayStats
}

func (r *recorder) UplinkForwarded(_ context.Context, frame *models.UplinkFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uplinks = append(r.uplinks, *frame)
}

func (r *recorder) DownlinkHandled(_ context.Context, res *models.DownlinkResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downlinks = append(r.downlinks, *res)
}

func (r *recorder) StatsReported(_ context.Context, st *models.GatewayStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, *st)
}

func (r *recorder) statuses() []models.DownlinkStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.DownlinkStatus
	for _, d := range r.downlinks {
		out = append(out, d.Status)
	}
	return out
}

func testConfig(s *fakeServer) Config {
	return Config{
		GatewayEUI:    testEUI,
		ServerAddress: "127.0.0.1",
		PortUp:        port(s.up),
		PortDown:      port(s.down),
		Keepalive:     time.Second,
		StatInterval:  time.Hour,
		PushTimeout:   100 * time.Millisecond,
		PullTimeout:   20 * time.Millisecond,
		Channel: radio.ChannelConfig{
			Frequency:    868100000,
			SpreadFactor: 7,
			Bandwidth:    125000,
			CodingRate:   5,
			Preamble:     8,
			SyncWord:     0x34,
			Power:        14,
		},
		DefaultPower: 14,
		Limits:       gateway.TxLimits{FreqMin: 863000000, FreqMax: 870000000, MaxPower: 27},
		FetchSleep:   2 * time.Millisecond,
		RingSize:     8,
		JIT:          jit.DefaultConfig(),
		PollInterval: 2 * time.Millisecond,
	}
}

type harness struct {
	f    *Forwarder
	drv  *radio.StubDriver
	rec  *recorder
	errc chan error
}

func start(t *testing.T, cfg Config, clock radio.Clock) *harness {
	h := &harness{drv: radio.NewStubDriver(), rec: &recorder{}, errc: make(chan error, 1)}
	h.f = New(cfg, radio.NewArbitrator(h.drv, cfg.Channel), clock, h.rec)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { h.errc <- h.f.Run(ctx) }()
	return h
}

func TestImmediatePullRespIsAdmittedAndTransmitted(t *testing.T) {
	s := newFakeServer(t)
	h := start(t, testConfig(s), newFakeClock(1000000))

	_, addr := expect(t, s.down, gateway.PullData)
	send(t, s.down, addr, pullResp(0x1234,
		`{"imme":true,"freq":868.1,"powe":14,"datr":"SF7BW125","codr":"4/5","ipol":true,"size":5,"data":"aGVsbG8="}`))

	ack, _ := expect(t, s.down, gateway.TxAck)
	require.Equal(t, uint16(0x1234), ack.Token)
	require.Equal(t, testEUI, ack.GatewayEUI)
	require.Empty(t, ack.Payload)

	require.Eventually(t, func() bool { return len(h.drv.Sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	pkt := h.drv.Sent()[0]
	require.Equal(t, uint32(868100000), pkt.Frequency)
	require.Equal(t, 7, pkt.SpreadFactor)
	require.Equal(t, uint32(125000), pkt.Bandwidth)
	require.Equal(t, 5, pkt.CodingRate)
	require.Equal(t, []byte("hello"), pkt.Payload)
	require.True(t, pkt.Immediate)
	require.True(t, pkt.InvertPol)

	require.Eventually(t, func() bool {
		st := h.rec.statuses()
		return len(st) == 2 && st[0] == models.DownlinkQueued && st[1] == models.DownlinkSent
	}, time.Second, 5*time.Millisecond)

	down := h.f.Stats().Down
	require.Equal(t, uint32(1), down.DgramRcv)
	require.Equal(t, uint32(1), down.TxRequested)
	require.Equal(t, uint32(1), down.TxOk)
}

func TestOverlappingPullRespIsRejectedWithCollision(t *testing.T) {
	s := newFakeServer(t)
	h := start(t, testConfig(s), newFakeClock(5000000))

	_, addr := expect(t, s.down, gateway.PullData)

	send(t, s.down, addr, pullResp(1,
		`{"tmst":6000000,"freq":868.1,"datr":"SF7BW125","codr":"4/5","size":5,"data":"aGVsbG8="}`))
	ack, _ := expect(t, s.down, gateway.TxAck)
	require.Equal(t, uint16(1), ack.Token)
	require.Empty(t, ack.Payload)

	send(t, s.down, addr, pullResp(2,
		`{"imme":false,"tmst":6010000,"freq":868.1,"datr":"SF7BW125","codr":"4/5","size":5,"data":"aGVsbG8="}`))
	ack, _ = expect(t, s.down, gateway.TxAck)
	require.Equal(t, uint16(2), ack.Token)
	require.JSONEq(t, `{"txpk_ack":{"error":"COLLISION_PACKET"}}`, string(ack.Payload))

	require.Len(t, h.f.Queue(), 1)
	require.Equal(t, uint32(6000000), h.f.Queue()[0].Instant)
	require.Equal(t, uint32(1), h.f.Stats().Down.RejectedCollisionPacket)
}

func TestMalformedPullRespGetsNoTxAck(t *testing.T) {
	s := newFakeServer(t)
	h := start(t, testConfig(s), newFakeClock(0))

	_, addr := expect(t, s.down, gateway.PullData)
	send(t, s.down, addr, pullResp(7, `{"imme":true,"freq":868.1,"codr":"4/5","size":5,"data":"aGVsbG8="}`))
	send(t, s.down, addr, pullResp(8, `{"imme":true,"freq":900.1,"datr":"SF7BW125","codr":"4/5","size":5,"data":"aGVsbG8="}`))

	// 第一个请求缺少 datr，只有第二个会得到 TX_ACK
	ack, _ := expect(t, s.down, gateway.TxAck)
	require.Equal(t, uint16(8), ack.Token)
	require.JSONEq(t, `{"txpk_ack":{"error":"TX_FREQ"}}`, string(ack.Payload))

	require.Eventually(t, func() bool {
		st := h.rec.statuses()
		return len(st) == 2 && st[0] == models.DownlinkMalformed && st[1] == models.DownlinkRejected
	}, time.Second, 5*time.Millisecond)
	require.Empty(t, h.f.Queue())
}

func TestPullAckTokenCorrelation(t *testing.T) {
	s := newFakeServer(t)
	cfg := testConfig(s)
	cfg.Keepalive = 5 * time.Second
	h := start(t, cfg, newFakeClock(0))

	pull, addr := expect(t, s.down, gateway.PullData)
	require.Eventually(t, func() bool { return h.f.Stats().Down.PullSent == 1 }, time.Second, time.Millisecond)

	send(t, s.down, addr, gateway.Packet{Token: pull.Token + 1, Type: gateway.PullAck})
	time.Sleep(100 * time.Millisecond)
	require.Zero(t, h.f.Stats().Down.AckReceived)

	send(t, s.down, addr, gateway.Packet{Token: pull.Token, Type: gateway.PullAck})
	require.Eventually(t, func() bool { return h.f.Stats().Down.AckReceived == 1 }, time.Second, time.Millisecond)

	// 重复的 ACK 不计数
	send(t, s.down, addr, gateway.Packet{Token: pull.Token, Type: gateway.PullAck})
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, uint32(1), h.f.Stats().Down.AckReceived)
}

func TestAutoQuit(t *testing.T) {
	s := newFakeServer(t)
	cfg := testConfig(s)
	cfg.Keepalive = 30 * time.Millisecond
	cfg.PullTimeout = 10 * time.Millisecond
	cfg.AutoquitThreshold = 2
	h := start(t, cfg, newFakeClock(0))

	select {
	case err := <-h.errc:
		require.ErrorIs(t, err, ErrAutoQuit)
	case <-time.After(3 * time.Second):
		t.Fatal("forwarder did not quit")
	}
}

func TestSubmit(t *testing.T) {
	s := newFakeServer(t)
	h := start(t, testConfig(s), newFakeClock(0))
	ctx := context.Background()

	res, err := h.f.Submit(ctx, SourceAPI, models.DownlinkRequest{
		TXPK: []byte(`{"imme":true,"freq":869.525,"datr":"SF9BW125","codr":"4/5","size":3,"data":"AQID"}`),
	})
	require.NoError(t, err)
	require.Equal(t, models.DownlinkQueued, res.Status)
	require.Equal(t, SourceAPI, res.Source)
	require.Equal(t, "C", res.Class)
	require.Equal(t, uint32(869525000), res.Frequency)

	require.Eventually(t, func() bool { return len(h.drv.Sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []byte{1, 2, 3}, h.drv.Sent()[0].Payload)

	res, err = h.f.Submit(ctx, SourceAPI, models.DownlinkRequest{
		TXPK: []byte(`{"imme":true,"freq":868.1,"powe":30,"datr":"SF7BW125","codr":"4/5","size":3,"data":"AQID"}`),
	})
	require.NoError(t, err)
	require.Equal(t, models.DownlinkRejected, res.Status)
	require.Equal(t, gateway.ReasonTxPower, res.Reason)

	res, err = h.f.Submit(ctx, SourceAPI, models.DownlinkRequest{TXPK: []byte(`{"tmms":1234}`)})
	require.NoError(t, err)
	require.Equal(t, gateway.ReasonGPSUnlocked, res.Reason)

	res, err = h.f.Submit(ctx, SourceAPI, models.DownlinkRequest{TXPK: []byte(`[]`)})
	require.NoError(t, err)
	require.Equal(t, models.DownlinkMalformed, res.Status)
}

func TestSubmitAfterStop(t *testing.T) {
	f := New(Config{RingSize: 1, JIT: jit.DefaultConfig()}, radio.NewArbitrator(radio.NewStubDriver(), radio.ChannelConfig{}), newFakeClock(0), nil)
	close(f.done)

	_, err := f.Submit(context.Background(), SourceAPI, models.DownlinkRequest{})
	require.ErrorIs(t, err, ErrStopped)
}

func TestMultiRecorderCopies(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := MultiRecorder{a, b}

	res := &models.DownlinkResult{Status: models.DownlinkQueued}
	m.DownlinkHandled(context.Background(), res)
	res.Status = models.DownlinkSent

	require.Equal(t, []models.DownlinkStatus{models.DownlinkQueued}, a.statuses())
	require.Equal(t, []models.DownlinkStatus{models.DownlinkQueued}, b.statuses())

	m.UplinkForwarded(context.Background(), &models.UplinkFrame{Tmst: 3})
	m.StatsReported(context.Background(), &models.GatewayStats{})
	require.Len(t, a.uplinks, 1)
	require.Len(t, b.stats, 1)
}
