package forwarder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lora-pkt-fwd/internal/jit"
	"github.com/lorawan-server/lora-pkt-fwd/internal/models"
	"github.com/lorawan-server/lora-pkt-fwd/internal/radio"
)

func TestSpoolPusher(t *testing.T) {
	s := newFakeServer(t)
	dir := t.TempDir()

	cfg := testConfig(s)
	cfg.SpoolEnabled = true
	cfg.SpoolPath = dir
	cfg.SpoolInterval = 10 * time.Millisecond

	good := filepath.Join(dir, "msg1")
	bad := filepath.Join(dir, "msg2")
	// 时间字段被忽略，spool 文件总是立即发送
	require.NoError(t, os.WriteFile(good, []byte(`{"txpk":{"tmst":42,"freq":868.1,"datr":"SF7BW125","codr":"4/5","data":"hello"}}`), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte(`{"txpk":{"freq":868.1}`), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	h := start(t, cfg, newFakeClock(0))

	require.Eventually(t, func() bool { return len(h.drv.Sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	pkt := h.drv.Sent()[0]
	require.Equal(t, []byte("hello"), pkt.Payload)
	require.True(t, pkt.Immediate)
	require.Equal(t, 14, pkt.Power)
	require.Equal(t, 8, pkt.Preamble)

	require.Eventually(t, func() bool {
		_, errGood := os.Stat(good)
		_, errBad := os.Stat(bad)
		return os.IsNotExist(errGood) && os.IsNotExist(errBad)
	}, time.Second, 5*time.Millisecond)

	_, err := os.Stat(filepath.Join(dir, "sub"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.rec.statuses()) == 3
	}, time.Second, 5*time.Millisecond)
	require.ElementsMatch(t,
		[]models.DownlinkStatus{models.DownlinkQueued, models.DownlinkSent, models.DownlinkMalformed},
		h.rec.statuses())

	down := h.f.Stats().Down
	require.Equal(t, uint32(1), down.TxRequested)
	require.Equal(t, uint32(1), down.TxOk)
	require.Empty(t, h.f.Queue())
}

func TestSpoolFileDoesNotDelayAdmittedClassA(t *testing.T) {
	s := newFakeServer(t)
	dir := t.TempDir()

	cfg := testConfig(s)
	cfg.SpoolEnabled = true
	cfg.SpoolPath = dir
	cfg.SpoolInterval = 5 * time.Millisecond

	clock := radio.NewMonotonicClock()
	h := &harness{drv: radio.NewStubDriver(), rec: &recorder{}, errc: make(chan error, 1)}
	h.drv.TxDuration = true
	h.f = New(cfg, radio.NewArbitrator(h.drv, cfg.Channel), clock, h.rec)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { h.errc <- h.f.Run(ctx) }()

	instant := clock.Now() + 300000
	classA, err := h.f.Submit(ctx, SourceAPI, models.DownlinkRequest{
		TXPK: []byte(fmt.Sprintf(`{"tmst":%d,"freq":868.1,"datr":"SF7BW125","codr":"4/5","size":3,"data":"AQID"}`, instant)),
	})
	require.NoError(t, err)
	require.Equal(t, models.DownlinkQueued, classA.Status)
	queued := h.f.Queue()
	require.Len(t, queued, 1)
	airtimeA := queued[0].Airtime

	// SF12 下 50 字节约占用信道 2 秒
	spool := `{"txpk":{"freq":868.1,"datr":"SF12BW125","codr":"4/5","data":"` + strings.Repeat("x", 50) + `"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "msg"), []byte(spool), 0o644))

	var spooled models.DownlinkResult
	require.Eventually(t, func() bool {
		h.rec.mu.Lock()
		defer h.rec.mu.Unlock()
		for _, d := range h.rec.downlinks {
			if d.Source == SourceSpool && d.Status == models.DownlinkQueued {
				spooled = d
				return true
			}
		}
		return false
	}, time.Second, 2*time.Millisecond)

	// 立即请求被放到 class A 之后的空闲时刻
	require.Equal(t, jit.ClassC.String(), spooled.Class)
	require.Greater(t, int32(spooled.CountUs-instant), int32(airtimeA.Microseconds()))

	// class A 按时发出，Sent 在发射结束后记录
	require.Eventually(t, func() bool { return len(h.drv.Sent()) >= 1 }, time.Second, time.Millisecond)
	require.Equal(t, []byte{1, 2, 3}, h.drv.Sent()[0].Payload)
	late := time.Duration(int32(clock.Now()-instant)) * time.Microsecond
	require.Less(t, late, airtimeA+200*time.Millisecond)
}
