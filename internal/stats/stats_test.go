package stats

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lora-pkt-fwd/internal/gateway"
	"github.com/lorawan-server/lora-pkt-fwd/internal/ring"
)

func TestSnapshotResets(t *testing.T) {
	a := New()

	a.RxFrame(ring.CRCOk)
	a.RxFrame(ring.CRCOk)
	a.RxFrame(ring.CRCBad)
	a.RxFrame(ring.CRCNone)
	a.Forwarded(10, 150)
	a.Forwarded(20, 170)
	a.PushAck()
	a.PullSent()
	a.PullSent()
	a.PullAck()
	a.PullResp(120, 12)
	a.TxRequested("server")
	a.TxRejected(gateway.ReasonTooLate)
	a.TxRejected(gateway.ReasonCollisionPacket)
	a.TxRejected("SOMETHING")
	a.TxDone(nil)
	a.TxDone(errors.New("boom"))

	r := a.Snapshot()
	require.Equal(t, uint32(4), r.Up.RxReceived)
	require.Equal(t, uint32(2), r.Up.RxOk)
	require.Equal(t, uint32(30), r.Up.PayloadBytes)
	require.Equal(t, uint32(320), r.Up.NetworkBytes)
	require.Equal(t, uint32(1), r.Down.RejectedTooLate)
	require.Equal(t, uint32(1), r.Down.RejectedCollisionPacket)
	require.Equal(t, uint32(1), r.Down.RejectedUnknown)
	require.Equal(t, uint32(1), r.Down.TxOk)
	require.Equal(t, uint32(1), r.Down.TxFail)

	ok, bad, none := r.CRCRatios()
	require.InDelta(t, 0.5, ok, 1e-9)
	require.InDelta(t, 0.25, bad, 1e-9)
	require.InDelta(t, 0.25, none, 1e-9)
	require.InDelta(t, 0.5, r.PushAckRatio(), 1e-9)
	require.InDelta(t, 0.5, r.PullAckRatio(), 1e-9)
	r.Log()

	next := a.Snapshot()
	require.Equal(t, Upstream{}, next.Up)
	require.Equal(t, Downstream{}, next.Down)
	require.Zero(t, next.PushAckRatio())
}

func TestCurrentDoesNotReset(t *testing.T) {
	a := New()
	a.RxDropped()
	require.Equal(t, uint32(1), a.Current().Up.RxDropped)
	require.Equal(t, uint32(1), a.Current().Up.RxDropped)
}

func TestConcurrentIncrements(t *testing.T) {
	a := New()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total uint32
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				a.RxFrame(ring.CRCOk)
				if j%100 == 0 {
					r := a.Snapshot()
					mu.Lock()
					total += r.Up.RxReceived
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	total += a.Snapshot().Up.RxReceived
	require.Equal(t, uint32(2000), total)
}

func TestStat(t *testing.T) {
	a := New()
	a.RxFrame(ring.CRCOk)
	a.Forwarded(5, 100)
	a.PushAck()
	a.PullResp(50, 5)
	a.TxDone(nil)

	st := a.Snapshot().Stat(Identity{Latitude: 1.5, Longitude: 2.5, Altitude: 10, Platform: "GPSHAT", Email: "ops@example.com", Description: "roof"})
	require.Equal(t, uint32(1), st.RxNb)
	require.Equal(t, uint32(1), st.RxOk)
	require.Equal(t, uint32(1), st.RxFw)
	require.Equal(t, 100.0, st.AckR)
	require.Equal(t, uint32(1), st.DwNb)
	require.Equal(t, uint32(1), st.TxNb)
	require.Equal(t, "roof", st.Desc)
}

func TestRecord(t *testing.T) {
	a := New()
	a.RxFrame(ring.CRCOk)
	a.RxFrame(ring.CRCBad)
	a.TxRequested("server")
	a.TxRejected(gateway.ReasonTooLate)
	a.TxRejected(gateway.ReasonTxFreq)

	rec := a.Snapshot().Record("AA555A0000000000", Identity{Latitude: 48.1, Altitude: 30})
	require.Equal(t, "AA555A0000000000", rec.GatewayID)
	require.Equal(t, uint32(2), rec.RXPacketsReceived)
	require.Equal(t, uint32(1), rec.RXPacketsValid)
	require.Equal(t, uint32(1), rec.TXPacketsReceived)
	require.Equal(t, uint32(2), rec.Metadata["tx_rejected"])
	require.Equal(t, uint32(1), rec.Metadata["rx_bad"])
	require.Equal(t, 30, rec.Location.Altitude)
}
