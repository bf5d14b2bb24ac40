package integration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lora-pkt-fwd/internal/forwarder"
	"github.com/lorawan-server/lora-pkt-fwd/internal/models"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	sources []string
	reqs    []models.DownlinkRequest
	err     error
}

func (s *fakeSubmitter) Submit(_ context.Context, source string, req models.DownlinkRequest) (*models.DownlinkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = append(s.sources, source)
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	return &models.DownlinkResult{ID: req.ID, Source: source, Status: models.DownlinkQueued}, nil
}

const command = `{"id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8","txpk":{"imme":true,"freq":869.525,"powe":14,"datr":"SF9BW125","codr":"4/5","ipol":true,"size":2,"data":"AQI="}}`

func TestHandleCommand(t *testing.T) {
	sub := &fakeSubmitter{}

	res := handleCommand(context.Background(), sub, forwarder.SourceMQTT, []byte(command))
	require.Empty(t, res.Error)
	require.NotNil(t, res.Result)
	require.Equal(t, models.DownlinkQueued, res.Result.Status)
	require.Equal(t, []string{forwarder.SourceMQTT}, sub.sources)
	require.Equal(t, uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"), sub.reqs[0].ID)

	res = handleCommand(context.Background(), sub, forwarder.SourceMQTT, []byte(`{"id":`))
	require.Contains(t, res.Error, "invalid command")

	res = handleCommand(context.Background(), sub, forwarder.SourceMQTT, []byte(`{"id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8"}`))
	require.Contains(t, res.Error, "no txpk")
	require.Len(t, sub.reqs, 1)

	sub.err = forwarder.ErrStopped
	res = handleCommand(context.Background(), sub, forwarder.SourceMQTT, []byte(command))
	require.Equal(t, forwarder.ErrStopped.Error(), res.Error)
}

func TestNATSReply(t *testing.T) {
	n := &NATS{gatewayID: "AA555A0000000000"}
	sub := &fakeSubmitter{}

	var reply []byte
	n.handleTx(context.Background(), sub, []byte(command), "_INBOX.1", func(b []byte) error {
		reply = b
		return nil
	})
	require.Equal(t, []string{forwarder.SourceNATS}, sub.sources)

	var res CommandResult
	require.NoError(t, json.Unmarshal(reply, &res))
	require.Equal(t, models.DownlinkQueued, res.Result.Status)

	// 没有 reply subject 时不应答
	n.handleTx(context.Background(), sub, []byte(command), "", func([]byte) error {
		return errors.New("unexpected reply")
	})
	require.Len(t, sub.sources, 2)
}

func TestSubjects(t *testing.T) {
	require.Equal(t, "gateway.AA555A0000000000.rx", natsSubject("AA555A0000000000", "rx"))
	require.Equal(t, "lora/AA555A0000000000/tx", mqttTopic("lora", "AA555A0000000000", "tx"))
}

func TestWebhook(t *testing.T) {
	got := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "secret", r.Header.Get("X-Token"))

		body, _ := io.ReadAll(r.Body)
		var ev Event
		if err := json.Unmarshal(body, &ev); err == nil {
			got <- ev
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(HTTPConfig{
		URL:     srv.URL,
		Timeout: time.Second,
		Headers: map[string]string{"X-Token": "secret"},
	}, "AA555A0000000000")

	w.UplinkForwarded(context.Background(), &models.UplinkFrame{GatewayID: "AA555A0000000000", Frequency: 868100000})

	select {
	case ev := <-got:
		require.Equal(t, EventUplink, ev.Type)
		require.Equal(t, "AA555A0000000000", ev.GatewayID)
		frame, ok := ev.Payload.(map[string]interface{})
		require.True(t, ok)
		require.NotEmpty(t, frame)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not called")
	}
}
