package gateway

import (
	"encoding/json"
	"strconv"
	"time"
)

// RXPK is one received frame in a PUSH_DATA body
type RXPK struct {
	Time time.Time `json:"-"`
	Tmst uint32    `json:"tmst"`
	Chan int       `json:"chan"`
	RFCh int       `json:"rfch"`
	Freq float64   `json:"-"` // MHz
	Stat int       `json:"stat"`
	Modu string    `json:"modu"`
	DatR string    `json:"datr"`
	CodR string    `json:"codr"`
	LSNR float64   `json:"-"`
	RSSI float64   `json:"-"`
	Size int       `json:"size"`
	Data []byte    `json:"data"` // base64 by encoding/json
}

// rxpkTimeLayout is ISO 8601 with microseconds
const rxpkTimeLayout = "2006-01-02T15:04:05.000000Z"

// MarshalJSON keeps the number formatting of the reference forwarder:
// freq with 6 decimals, lsnr with 1, rssi as an integer
func (p RXPK) MarshalJSON() ([]byte, error) {
	type alias RXPK
	return json.Marshal(struct {
		Time string      `json:"time"`
		Freq json.Number `json:"freq"`
		LSNR json.Number `json:"lsnr"`
		RSSI json.Number `json:"rssi"`
		alias
	}{
		Time:  p.Time.UTC().Format(rxpkTimeLayout),
		Freq:  json.Number(strconv.FormatFloat(p.Freq, 'f', 6, 64)),
		LSNR:  json.Number(strconv.FormatFloat(p.LSNR, 'f', 1, 64)),
		RSSI:  json.Number(strconv.FormatFloat(p.RSSI, 'f', 0, 64)),
		alias: alias(p),
	})
}

// Stat is the gateway status carried in a PUSH_DATA body
type Stat struct {
	Time time.Time `json:"-"`
	Lati float64   `json:"-"`
	Long float64   `json:"-"`
	Alti int       `json:"alti"`
	RxNb uint32    `json:"rxnb"`
	RxOk uint32    `json:"rxok"`
	RxFw uint32    `json:"rxfw"`
	AckR float64   `json:"-"` // %
	DwNb uint32    `json:"dwnb"`
	TxNb uint32    `json:"txnb"`
	Pfrm string    `json:"pfrm"`
	Mail string    `json:"mail"`
	Desc string    `json:"desc"`
}

// statTimeLayout matches strftime "%F %T %Z" on a UTC time
const statTimeLayout = "2006-01-02 15:04:05 MST"

func (s Stat) MarshalJSON() ([]byte, error) {
	type alias Stat
	return json.Marshal(struct {
		Time string      `json:"time"`
		Lati json.Number `json:"lati"`
		Long json.Number `json:"long"`
		AckR json.Number `json:"ackr"`
		alias
	}{
		Time:  s.Time.UTC().Format(statTimeLayout),
		Lati:  json.Number(strconv.FormatFloat(s.Lati, 'f', 5, 64)),
		Long:  json.Number(strconv.FormatFloat(s.Long, 'f', 5, 64)),
		AckR:  json.Number(strconv.FormatFloat(s.AckR, 'f', 1, 64)),
		alias: alias(s),
	})
}

// PushDataPayload is the JSON body of a PUSH_DATA datagram
type PushDataPayload struct {
	RXPK []RXPK `json:"rxpk,omitempty"`
	Stat *Stat  `json:"stat,omitempty"`
}

// PullRespPayload is the JSON body of a PULL_RESP datagram
type PullRespPayload struct {
	TXPK *TXPK `json:"txpk"`
}

// TXPK is a downlink request. Optional fields are pointers so that absence
// can be told apart from a zero value.
type TXPK struct {
	Imme *bool    `json:"imme,omitempty"`
	Tmst *uint32  `json:"tmst,omitempty"`
	Tmms *uint64  `json:"tmms,omitempty"`
	Time *string  `json:"time,omitempty"`
	Freq *float64 `json:"freq,omitempty"` // MHz
	RFCh *int     `json:"rfch,omitempty"`
	Powe *int     `json:"powe,omitempty"`
	Modu string   `json:"modu,omitempty"`
	DatR *string  `json:"datr,omitempty"`
	CodR *string  `json:"codr,omitempty"`
	IPol *bool    `json:"ipol,omitempty"`
	Prea *int     `json:"prea,omitempty"`
	NCRC *bool    `json:"ncrc,omitempty"`
	Size *int     `json:"size,omitempty"`
	Data *string  `json:"data,omitempty"`
}

// Tx-Ack 错误码
const (
	ReasonCollisionPacket = "COLLISION_PACKET"
	ReasonTooLate         = "TOO_LATE"
	ReasonTooEarly        = "TOO_EARLY"
	ReasonCollisionBeacon = "COLLISION_BEACON"
	ReasonTxFreq          = "TX_FREQ"
	ReasonTxPower         = "TX_POWER"
	ReasonGPSUnlocked     = "GPS_UNLOCKED"
	ReasonUnknown         = "UNKNOWN"
)

// TxAckPayload is the JSON body of a TX_ACK reporting an error
type TxAckPayload struct {
	TXPKACK TxAckError `json:"txpk_ack"`
}

type TxAckError struct {
	Error string `json:"error"`
}

// TxAckBody returns the TX_ACK body for reason; an empty reason means success and no body
func TxAckBody(reason string) []byte {
	if reason == "" {
		return nil
	}
	b, _ := json.Marshal(TxAckPayload{TXPKACK: TxAckError{Error: reason}})
	return b
}
