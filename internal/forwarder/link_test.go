package forwarder

import (
	"context"
	"net"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lora-pkt-fwd/internal/gateway"
	"github.com/lorawan-server/lora-pkt-fwd/internal/metrics"
)

func reopenCount(t *testing.T) float64 {
	t.Helper()

	m := &dto.Metric{}
	require.NoError(t, metrics.SocketReopenCounter.Write(m))
	return m.GetCounter().GetValue()
}

func localPort(c *net.UDPConn) int {
	return c.LocalAddr().(*net.UDPAddr).Port
}

func TestDownstreamErrorReopensSockets(t *testing.T) {
	s := newFakeServer(t)
	f, _ := newLinked(t, s)
	f.cfg.Keepalive = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.downlinkLoop(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errc
	})

	_, addr := expect(t, s.down, gateway.PullData)
	_, down := f.link.conns()
	require.Equal(t, localPort(down), addr.Port)
	before := reopenCount(t)

	// 关闭后读操作返回非超时错误
	require.NoError(t, down.Close())

	for {
		_, next := expect(t, s.down, gateway.PullData)
		if next.Port != addr.Port {
			break
		}
	}

	up, newDown := f.link.conns()
	require.NotSame(t, down, newDown)
	require.NotEqual(t, addr.Port, localPort(newDown))
	require.GreaterOrEqual(t, reopenCount(t), before+1)

	// 上行套接字也被重建且可用
	require.NoError(t, f.link.sendUp([]byte{2, 0, 1, 0}))
	buf := make([]byte, 16)
	require.NoError(t, s.up.SetReadDeadline(time.Now().Add(time.Second)))
	_, from, err := s.up.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, localPort(up), from.Port)
}

func TestReopenFailureStopsDownlinkLoop(t *testing.T) {
	s := newFakeServer(t)
	f, _ := newLinked(t, s)
	f.link.addrDown = "127.0.0.1:99999"

	errc := make(chan error, 1)
	go func() { errc <- f.downlinkLoop(context.Background()) }()

	expect(t, s.down, gateway.PullData)
	_, down := f.link.conns()
	require.NoError(t, down.Close())

	select {
	case err := <-errc:
		require.Error(t, err)
		require.Contains(t, err.Error(), "reopen sockets")
	case <-time.After(2 * time.Second):
		t.Fatal("downlink loop kept running after a failed reopen")
	}
}
