package gateway

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lora-pkt-fwd/internal/jit"
	"github.com/lorawan-server/lora-pkt-fwd/internal/radio"
	"github.com/lorawan-server/lora-pkt-fwd/pkg/lorawan"
)

var testEUI = lorawan.EUI64{0xa8, 0x40, 0x41, 0xff, 0xfe, 0x12, 0x34, 0x56}

func TestEncodeDecodeHeader(t *testing.T) {
	p := Packet{Token: 0xabcd, Type: PullData, GatewayEUI: testEUI}
	b, err := p.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, []byte{2, 0xab, 0xcd, 2, 0xa8, 0x40, 0x41, 0xff, 0xfe, 0x12, 0x34, 0x56}, b)

	got, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, p, got)

	p = Packet{Token: 1, Type: PushData, GatewayEUI: testEUI, Payload: []byte(`{"stat":{}}`)}
	b, err = p.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, HeaderSize+11)
	got, err = Decode(b)
	require.NoError(t, err)
	require.Equal(t, p.Payload, got.Payload)
}

func TestDecodeServerPackets(t *testing.T) {
	p, err := Decode([]byte{2, 0x12, 0x34, byte(PushAck)})
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), p.Token)
	require.Equal(t, PushAck, p.Type)
	require.Empty(t, p.Payload)

	p, err = Decode(append([]byte{2, 0, 7, byte(PullResp)}, `{"txpk":{}}`...))
	require.NoError(t, err)
	require.Equal(t, PullResp, p.Type)
	require.Equal(t, `{"txpk":{}}`, string(p.Payload))

	b, err := Packet{Token: 7, Type: PullAck}.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, AckSize)
}

func TestDecodeInvalid(t *testing.T) {
	for name, b := range map[string][]byte{
		"empty":       nil,
		"short":       {2, 0, 0},
		"version":     {1, 0, 0, byte(PushAck)},
		"type":        {2, 0, 0, 9},
		"no eui":      {2, 0, 0, byte(PullData), 1, 2, 3},
		"short txack": {2, 0, 0, byte(TxAck)},
	} {
		_, err := Decode(b)
		require.ErrorIs(t, err, ErrInvalidPacket, name)
	}

	_, err := Packet{Type: 6}.MarshalBinary()
	require.ErrorIs(t, err, ErrInvalidPacket)
}

func TestTokenBytes(t *testing.T) {
	require.Equal(t, [2]byte{0xbe, 0xef}, TokenBytes(0xbeef))
}

func TestRXPKJSON(t *testing.T) {
	pk := RXPK{
		Time: time.Date(2024, 3, 1, 10, 20, 30, 123456000, time.UTC),
		Tmst: 3512348611,
		Chan: 0,
		RFCh: 1,
		Freq: 868.1,
		Stat: 1,
		Modu: "LORA",
		DatR: "SF7BW125",
		CodR: "4/5",
		LSNR: 9.75,
		RSSI: -35.4,
		Size: 3,
		Data: []byte{1, 2, 3},
	}
	b, err := json.Marshal(PushDataPayload{RXPK: []RXPK{pk}})
	require.NoError(t, err)

	require.JSONEq(t, `{"rxpk":[{
		"time":"2024-03-01T10:20:30.123456Z","tmst":3512348611,"chan":0,"rfch":1,
		"freq":868.100000,"stat":1,"modu":"LORA","datr":"SF7BW125","codr":"4/5",
		"lsnr":9.8,"rssi":-35,"size":3,"data":"AQID"}]}`, string(b))
	require.Contains(t, string(b), `"freq":868.100000`)
}

func TestStatJSON(t *testing.T) {
	st := Stat{
		Time: time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC),
		Lati: 46.24, Long: 3.2523, Alti: 145,
		RxNb: 2, RxOk: 2, RxFw: 2, AckR: 100,
		DwNb: 2, TxNb: 2,
		Pfrm: "GPSHAT", Mail: "support@dragino.com", Desc: "DESC",
	}
	b, err := json.Marshal(PushDataPayload{Stat: &st})
	require.NoError(t, err)
	require.JSONEq(t, `{"stat":{"time":"2024-03-01 10:20:30 UTC","lati":46.24000,"long":3.25230,"alti":145,
		"rxnb":2,"rxok":2,"rxfw":2,"ackr":100.0,"dwnb":2,"txnb":2,
		"pfrm":"GPSHAT","mail":"support@dragino.com","desc":"DESC"}}`, string(b))
}

func TestTxAckBody(t *testing.T) {
	require.Nil(t, TxAckBody(""))
	require.JSONEq(t, `{"txpk_ack":{"error":"TOO_LATE"}}`, string(TxAckBody(ReasonTooLate)))
}

func TestParseImmediate(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte("hello"))
	body := `{"txpk":{"imme":true,"freq":868.1,"rfch":0,"powe":14,"modu":"LORA","datr":"SF7BW125","codr":"4/5","ipol":true,"size":5,"data":"` + data + `"}}`

	dl, err := ParsePullResp([]byte(body), 20, PayloadBase64)
	require.NoError(t, err)
	require.Equal(t, jit.ClassC, dl.Class)
	require.Equal(t, radio.TxPacket{
		Frequency:    868100000,
		Power:        14,
		SpreadFactor: 7,
		Bandwidth:    125000,
		CodingRate:   5,
		Preamble:     StdPreamble,
		InvertPol:    true,
		Payload:      []byte("hello"),
		Immediate:    true,
	}, dl.Packet)
}

func TestParseTimestamped(t *testing.T) {
	body := `{"txpk":{"tmst":4000000000,"freq":869.525,"datr":"SF9BW125","codr":"2/3","prea":4,"ncrc":true,"size":2,"data":"AQI="}}`

	dl, err := ParsePullResp([]byte(body), 20, PayloadBase64)
	require.NoError(t, err)
	require.Equal(t, jit.ClassA, dl.Class)
	require.False(t, dl.Packet.Immediate)
	require.Equal(t, uint32(4000000000), dl.Packet.CountUs)
	require.Equal(t, uint32(869525000), dl.Packet.Frequency)
	require.Equal(t, 20, dl.Packet.Power)
	require.Equal(t, 6, dl.Packet.CodingRate)
	require.Equal(t, MinPreamble, dl.Packet.Preamble)
	require.True(t, dl.Packet.NoCRC)
}

func TestParseClassification(t *testing.T) {
	_, err := ParsePullResp([]byte(`{"txpk":{"tmms":1234,"freq":868.1,"datr":"SF7BW125","codr":"4/5","size":1,"data":"AQ=="}}`), 14, PayloadBase64)
	require.ErrorIs(t, err, ErrGPSUnlocked)
	require.Equal(t, ReasonGPSUnlocked, AckReason(err))

	dl, err := ParsePullResp([]byte(`{"txpk":{"freq":868.1,"datr":"SF7BW125","codr":"4/5","size":1,"data":"AQ=="}}`), 14, PayloadBase64)
	require.NoError(t, err)
	require.Equal(t, jit.ClassC, dl.Class)
	require.True(t, dl.Packet.Immediate)
}

func TestParseSizeMismatchIsNotFatal(t *testing.T) {
	dl, err := ParsePullResp([]byte(`{"txpk":{"imme":true,"freq":868.1,"datr":"SF7BW125","codr":"4/5","size":9,"data":"AQI="}}`), 14, PayloadBase64)
	require.NoError(t, err)
	require.Len(t, dl.Packet.Payload, 2)
}

func TestParseMalformed(t *testing.T) {
	for name, body := range map[string]string{
		"json":     `{"txpk":`,
		"no txpk":  `{"rxpk":[]}`,
		"no freq":  `{"txpk":{"imme":true,"datr":"SF7BW125","codr":"4/5","size":1,"data":"AQ=="}}`,
		"no datr":  `{"txpk":{"imme":true,"freq":868.1,"codr":"4/5","size":1,"data":"AQ=="}}`,
		"bad sf":   `{"txpk":{"imme":true,"freq":868.1,"datr":"SF6BW125","codr":"4/5","size":1,"data":"AQ=="}}`,
		"bad bw":   `{"txpk":{"imme":true,"freq":868.1,"datr":"SF7BW62","codr":"4/5","size":1,"data":"AQ=="}}`,
		"no codr":  `{"txpk":{"imme":true,"freq":868.1,"datr":"SF7BW125","size":1,"data":"AQ=="}}`,
		"bad codr": `{"txpk":{"imme":true,"freq":868.1,"datr":"SF7BW125","codr":"4/9","size":1,"data":"AQ=="}}`,
		"no size":  `{"txpk":{"imme":true,"freq":868.1,"datr":"SF7BW125","codr":"4/5","data":"AQ=="}}`,
		"no data":  `{"txpk":{"imme":true,"freq":868.1,"datr":"SF7BW125","codr":"4/5","size":1}}`,
		"base64":   `{"txpk":{"imme":true,"freq":868.1,"datr":"SF7BW125","codr":"4/5","size":1,"data":"!!"}}`,
		"fsk":      `{"txpk":{"imme":true,"freq":868.1,"modu":"FSK","datr":"SF7BW125","codr":"4/5","size":1,"data":"AQ=="}}`,
	} {
		_, err := ParsePullResp([]byte(body), 14, PayloadBase64)
		require.ErrorIs(t, err, ErrMalformed, name)
	}
}

func TestParseTextPayload(t *testing.T) {
	dl, err := ParsePullResp([]byte(`{"txpk":{"freq":868.1,"datr":"SF7BW125","codr":"4/5","data":"relay on"}}`), 14, PayloadText)
	require.NoError(t, err)
	require.Equal(t, []byte("relay on"), dl.Packet.Payload)
	require.True(t, dl.Packet.Immediate)
}

func TestTxLimits(t *testing.T) {
	l := TxLimits{FreqMin: 863000000, FreqMax: 870000000, MaxPower: 16}

	require.NoError(t, l.Check(&radio.TxPacket{Frequency: 868100000, Power: 14}))

	err := l.Check(&radio.TxPacket{Frequency: 915000000, Power: 14})
	require.ErrorIs(t, err, ErrTxFreq)
	require.Equal(t, ReasonTxFreq, AckReason(err))

	err = l.Check(&radio.TxPacket{Frequency: 868100000, Power: 27})
	require.Equal(t, ReasonTxPower, AckReason(err))
}

func TestAckReason(t *testing.T) {
	require.Equal(t, "", AckReason(nil))
	require.Equal(t, ReasonCollisionPacket, AckReason(jit.ErrCollisionPacket))
	require.Equal(t, ReasonCollisionPacket, AckReason(jit.ErrFull))
	require.Equal(t, ReasonTooLate, AckReason(jit.ErrTooLate))
	require.Equal(t, ReasonTooEarly, AckReason(jit.ErrTooEarly))
	require.Equal(t, ReasonCollisionBeacon, AckReason(jit.ErrCollisionBeacon))
	require.Equal(t, ReasonUnknown, AckReason(radio.ErrClosed))
}
