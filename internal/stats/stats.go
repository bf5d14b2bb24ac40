// Package stats accumulates the forwarder counters between two reports.
package stats

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lora-pkt-fwd/internal/gateway"
	"github.com/lorawan-server/lora-pkt-fwd/internal/metrics"
	"github.com/lorawan-server/lora-pkt-fwd/internal/models"
	"github.com/lorawan-server/lora-pkt-fwd/internal/ring"
)

// Upstream counters
type Upstream struct {
	RxReceived   uint32 `json:"rx_rcv"`
	RxOk         uint32 `json:"rx_ok"`
	RxBad        uint32 `json:"rx_bad"`
	RxNoCRC      uint32 `json:"rx_nocrc"`
	RxDropped    uint32 `json:"rx_dropped"`
	PktForwarded uint32 `json:"up_pkt_fwd"`
	PayloadBytes uint32 `json:"up_payload_byte"`
	DgramSent    uint32 `json:"up_dgram_sent"`
	NetworkBytes uint32 `json:"up_network_byte"`
	AckReceived  uint32 `json:"up_ack_rcv"`
}

// Downstream counters
type Downstream struct {
	PullSent     uint32 `json:"dw_pull_sent"`
	AckReceived  uint32 `json:"dw_ack_rcv"`
	DgramRcv     uint32 `json:"dw_dgram_rcv"`
	NetworkBytes uint32 `json:"dw_network_byte"`
	PayloadBytes uint32 `json:"dw_payload_byte"`
	TxRequested  uint32 `json:"nb_tx_requested"`
	TxOk         uint32 `json:"nb_tx_ok"`
	TxFail       uint32 `json:"nb_tx_fail"`

	RejectedCollisionPacket uint32 `json:"nb_tx_rejected_collision_packet"`
	RejectedCollisionBeacon uint32 `json:"nb_tx_rejected_collision_beacon"`
	RejectedTooLate         uint32 `json:"nb_tx_rejected_too_late"`
	RejectedTooEarly        uint32 `json:"nb_tx_rejected_too_early"`
	RejectedTxFreq          uint32 `json:"nb_tx_rejected_tx_freq"`
	RejectedTxPower         uint32 `json:"nb_tx_rejected_tx_power"`
	RejectedGPSUnlocked     uint32 `json:"nb_tx_rejected_gps_unlocked"`
	RejectedUnknown         uint32 `json:"nb_tx_rejected_unknown"`
}

// Aggregator holds the counters of the current interval.
// Upstream and downstream counters have their own lock.
type Aggregator struct {
	upMu sync.Mutex
	up   Upstream

	downMu sync.Mutex
	down   Downstream
}

// New returns an aggregator with zeroed counters
func New() *Aggregator {
	return &Aggregator{}
}

// RxFrame counts a frame read from the radio
func (a *Aggregator) RxFrame(crc ring.CRCStatus) {
	a.upMu.Lock()
	a.up.RxReceived++
	switch crc {
	case ring.CRCOk:
		a.up.RxOk++
	case ring.CRCBad:
		a.up.RxBad++
	case ring.CRCNone:
		a.up.RxNoCRC++
	}
	a.upMu.Unlock()

	metrics.RxFrameCounter.WithLabelValues(crc.String()).Inc()
}

// RxDropped counts a frame lost to a full ring
func (a *Aggregator) RxDropped() {
	a.upMu.Lock()
	a.up.RxDropped++
	a.upMu.Unlock()

	metrics.RxDroppedCounter.Inc()
}

// Forwarded counts one PUSH_DATA carrying a frame of payloadBytes, networkBytes on the wire
func (a *Aggregator) Forwarded(payloadBytes, networkBytes int) {
	a.upMu.Lock()
	a.up.PktForwarded++
	a.up.PayloadBytes += uint32(payloadBytes)
	a.up.DgramSent++
	a.up.NetworkBytes += uint32(networkBytes)
	a.upMu.Unlock()

	metrics.UpForwardedCounter.Inc()
}

// PushAck counts a matching PUSH_ACK
func (a *Aggregator) PushAck() {
	a.upMu.Lock()
	a.up.AckReceived++
	a.upMu.Unlock()

	metrics.UpAckCounter.Inc()
}

// PullSent counts a PULL_DATA
func (a *Aggregator) PullSent() {
	a.downMu.Lock()
	a.down.PullSent++
	a.downMu.Unlock()

	metrics.PullSentCounter.Inc()
}

// PullAck counts the first matching PULL_ACK of a PULL_DATA
func (a *Aggregator) PullAck() {
	a.downMu.Lock()
	a.down.AckReceived++
	a.downMu.Unlock()

	metrics.PullAckCounter.Inc()
}

// PullResp counts a PULL_RESP that parsed
func (a *Aggregator) PullResp(networkBytes, payloadBytes int) {
	a.downMu.Lock()
	a.down.DgramRcv++
	a.down.NetworkBytes += uint32(networkBytes)
	a.down.PayloadBytes += uint32(payloadBytes)
	a.downMu.Unlock()
}

// TxRequested counts a downlink handed to admission, source is "server", "api", "nats", "mqtt" or "spool"
func (a *Aggregator) TxRequested(source string) {
	a.downMu.Lock()
	a.down.TxRequested++
	a.downMu.Unlock()

	metrics.TxRequestedCounter.WithLabelValues(source).Inc()
}

// TxRejected counts an admission failure by its TX_ACK reason
func (a *Aggregator) TxRejected(reason string) {
	a.downMu.Lock()
	switch reason {
	case gateway.ReasonCollisionPacket:
		a.down.RejectedCollisionPacket++
	case gateway.ReasonCollisionBeacon:
		a.down.RejectedCollisionBeacon++
	case gateway.ReasonTooLate:
		a.down.RejectedTooLate++
	case gateway.ReasonTooEarly:
		a.down.RejectedTooEarly++
	case gateway.ReasonTxFreq:
		a.down.RejectedTxFreq++
	case gateway.ReasonTxPower:
		a.down.RejectedTxPower++
	case gateway.ReasonGPSUnlocked:
		a.down.RejectedGPSUnlocked++
	default:
		a.down.RejectedUnknown++
	}
	a.downMu.Unlock()

	metrics.TxRejectedCounter.WithLabelValues(reason).Inc()
}

// TxDone counts the outcome of a physical transmission
func (a *Aggregator) TxDone(err error) {
	a.downMu.Lock()
	if err != nil {
		a.down.TxFail++
	} else {
		a.down.TxOk++
	}
	a.downMu.Unlock()

	if err != nil {
		metrics.TxFailedCounter.Inc()
	} else {
		metrics.TxSentCounter.Inc()
	}
}

// Current returns the counters of the running interval without resetting them
func (a *Aggregator) Current() Report {
	a.upMu.Lock()
	up := a.up
	a.upMu.Unlock()

	a.downMu.Lock()
	down := a.down
	a.downMu.Unlock()

	return Report{Time: time.Now().UTC(), Up: up, Down: down}
}

// Snapshot returns the counters and resets them, each direction atomically
func (a *Aggregator) Snapshot() Report {
	a.upMu.Lock()
	up := a.up
	a.up = Upstream{}
	a.upMu.Unlock()

	a.downMu.Lock()
	down := a.down
	a.down = Downstream{}
	a.downMu.Unlock()

	return Report{Time: time.Now().UTC(), Up: up, Down: down}
}

// Report is one interval worth of counters
type Report struct {
	Time time.Time  `json:"time"`
	Up   Upstream   `json:"up"`
	Down Downstream `json:"down"`
}

func ratio(n, d uint32) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// CRCRatios returns the CRC ok, bad and absent shares of received frames
func (r Report) CRCRatios() (ok, bad, none float64) {
	return ratio(r.Up.RxOk, r.Up.RxReceived), ratio(r.Up.RxBad, r.Up.RxReceived), ratio(r.Up.RxNoCRC, r.Up.RxReceived)
}

// PushAckRatio returns the share of PUSH_DATA that were acknowledged
func (r Report) PushAckRatio() float64 {
	return ratio(r.Up.AckReceived, r.Up.DgramSent)
}

// PullAckRatio returns the share of PULL_DATA that were acknowledged
func (r Report) PullAckRatio() float64 {
	return ratio(r.Down.AckReceived, r.Down.PullSent)
}

// Log writes the human readable report
func (r Report) Log() {
	ok, bad, none := r.CRCRatios()
	ts := r.Time.Format("2006-01-02 15:04:05 MST")

	log.Info().Msgf("REPORT~ ##### %s #####", ts)
	log.Info().Msg("REPORT~ ### [UPSTREAM] ###")
	log.Info().Msgf("REPORT~ # RF packets received by concentrator: %d", r.Up.RxReceived)
	log.Info().Msgf("REPORT~ # CRC_OK: %.2f%%, CRC_FAIL: %.2f%%, NO_CRC: %.2f%%", 100*ok, 100*bad, 100*none)
	log.Info().Msgf("REPORT~ # RF packets forwarded: %d (%d bytes)", r.Up.PktForwarded, r.Up.PayloadBytes)
	log.Info().Msgf("REPORT~ # RF packets lost to a full receive ring: %d", r.Up.RxDropped)
	log.Info().Msgf("REPORT~ # PUSH_DATA datagrams sent: %d (%d bytes)", r.Up.DgramSent, r.Up.NetworkBytes)
	log.Info().Msgf("REPORT~ # PUSH_DATA acknowledged: %.2f%%", 100*r.PushAckRatio())
	log.Info().Msg("REPORT~ ### [DOWNSTREAM] ###")
	log.Info().Msgf("REPORT~ # PULL_DATA sent: %d (%.2f%% acknowledged)", r.Down.PullSent, 100*r.PullAckRatio())
	log.Info().Msgf("REPORT~ # PULL_RESP(onse) datagrams received: %d (%d bytes)", r.Down.DgramRcv, r.Down.NetworkBytes)
	log.Info().Msgf("REPORT~ # RF packets sent to concentrator: %d (%d bytes)", r.Down.TxOk+r.Down.TxFail, r.Down.PayloadBytes)
	log.Info().Msgf("REPORT~ # TX errors: %d", r.Down.TxFail)
	log.Info().Msgf("REPORT~ # TX rejected: collision packet %d, collision beacon %d, too late %d, too early %d, tx freq %d, tx power %d, gps unlocked %d",
		r.Down.RejectedCollisionPacket, r.Down.RejectedCollisionBeacon, r.Down.RejectedTooLate,
		r.Down.RejectedTooEarly, r.Down.RejectedTxFreq, r.Down.RejectedTxPower, r.Down.RejectedGPSUnlocked)
	log.Info().Msg("REPORT~ ##### END #####")
}

// Identity is the static part of the status datagram
type Identity struct {
	Latitude    float64
	Longitude   float64
	Altitude    int
	Platform    string
	Email       string
	Description string
}

// Stat builds the status object sent upstream
func (r Report) Stat(id Identity) gateway.Stat {
	return gateway.Stat{
		Time: r.Time,
		Lati: id.Latitude,
		Long: id.Longitude,
		Alti: id.Altitude,
		RxNb: r.Up.RxReceived,
		RxOk: r.Up.RxOk,
		RxFw: r.Up.PktForwarded,
		AckR: 100 * r.PushAckRatio(),
		DwNb: r.Down.DgramRcv,
		TxNb: r.Down.TxOk,
		Pfrm: id.Platform,
		Mail: id.Email,
		Desc: id.Description,
	}
}

// Rejected sums the admission failures of every reason
func (d Downstream) Rejected() uint32 {
	return d.RejectedCollisionPacket + d.RejectedCollisionBeacon + d.RejectedTooLate +
		d.RejectedTooEarly + d.RejectedTxFreq + d.RejectedTxPower + d.RejectedGPSUnlocked + d.RejectedUnknown
}

// Record converts the report for the audit store and the integrations
func (r Report) Record(gatewayID string, id Identity) *models.GatewayStats {
	return &models.GatewayStats{
		ID:        uuid.New(),
		GatewayID: gatewayID,
		Time:      r.Time,
		Location: &models.Location{
			Latitude:  id.Latitude,
			Longitude: id.Longitude,
			Altitude:  id.Altitude,
		},
		RXPacketsReceived:  r.Up.RxReceived,
		RXPacketsValid:     r.Up.RxOk,
		RXPacketsForwarded: r.Up.PktForwarded,
		TXPacketsReceived:  r.Down.TxRequested,
		TXPacketsEmitted:   r.Down.TxOk,
		PushAckRatio:       r.PushAckRatio(),
		PullAckRatio:       r.PullAckRatio(),
		Metadata: models.Variables{
			"rx_bad":      r.Up.RxBad,
			"rx_nocrc":    r.Up.RxNoCRC,
			"rx_dropped":  r.Up.RxDropped,
			"dgram_sent":  r.Up.DgramSent,
			"pull_sent":   r.Down.PullSent,
			"dgram_rcv":   r.Down.DgramRcv,
			"tx_fail":     r.Down.TxFail,
			"tx_rejected": r.Down.Rejected(),
		},
	}
}
