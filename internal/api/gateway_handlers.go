package api

import (
	"net/http"

	"github.com/lorawan-server/lora-pkt-fwd/internal/jit"
	"github.com/lorawan-server/lora-pkt-fwd/pkg/lorawan"
)

// HandleGetGateway returns the gateway identity and the counters of the running interval
func (s *RESTServer) HandleGetGateway(w http.ResponseWriter, r *http.Request) {
	report := s.gateway.Stats()
	ok, bad, none := report.CRCRatios()

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"gateway_id": s.gateway.GatewayEUI().String(),
		"server":     s.config.Server.Address,
		"radio": map[string]interface{}{
			"driver":    s.config.Radio.Driver,
			"region":    s.config.Radio.Region,
			"frequency": s.config.Radio.Frequency,
			"datr":      lorawan.DataRate{SpreadFactor: s.config.Radio.SpreadFactor, Bandwidth: s.config.Radio.Bandwidth}.String(),
		},
		"stats": report,
		"ratios": map[string]float64{
			"crc_ok":   ok,
			"crc_bad":  bad,
			"crc_none": none,
			"push_ack": report.PushAckRatio(),
			"pull_ack": report.PullAckRatio(),
		},
	})
}

// HandleListGatewayStats lists the recorded stat reports
func (s *RESTServer) HandleListGatewayStats(w http.ResponseWriter, r *http.Request) {
	limit, _ := pagination(r)

	reports, err := s.store.ListGatewayStats(r.Context(), limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"stats": reports,
	})
}

type queueEntry struct {
	ID        uint64 `json:"id"`
	Type      string `json:"type"`
	Instant   uint32 `json:"count_us"`
	Airtime   int64  `json:"airtime_us"`
	Frequency uint32 `json:"freq"`
	Power     int    `json:"powe"`
	DataRate  string `json:"datr"`
	Size      int    `json:"size"`
	Admitted  uint32 `json:"admitted_us"`
}

func newQueueEntry(e jit.Entry) queueEntry {
	return queueEntry{
		ID:        e.ID,
		Type:      e.Type.String(),
		Instant:   e.Instant,
		Airtime:   e.Airtime.Microseconds(),
		Frequency: e.Packet.Frequency,
		Power:     e.Packet.Power,
		DataRate:  lorawan.DataRate{SpreadFactor: e.Packet.SpreadFactor, Bandwidth: e.Packet.Bandwidth}.String(),
		Size:      len(e.Packet.Payload),
		Admitted:  e.Admitted,
	}
}

// HandleGetQueue lists the downlinks waiting in the JIT queue, in dispatch order
func (s *RESTServer) HandleGetQueue(w http.ResponseWriter, r *http.Request) {
	entries := s.gateway.Queue()

	out := make([]queueEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, newQueueEntry(e))
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries":  out,
		"total":    len(out),
		"capacity": s.config.JIT.Capacity,
	})
}
