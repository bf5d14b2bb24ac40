package forwarder

import (
	"github.com/brocaar/lorawan"

	"github.com/lorawan-server/lora-pkt-fwd/internal/models"
)

// inspectPHY fills the LoRaWAN header fields of frame, frames that do not
// parse as LoRaWAN are forwarded all the same
func inspectPHY(frame *models.UplinkFrame) bool {
	var phy lorawan.PHYPayload
	if err := phy.UnmarshalBinary(frame.PHYPayload); err != nil {
		return false
	}

	frame.MType = phy.MHDR.MType.String()

	switch pl := phy.MACPayload.(type) {
	case *lorawan.MACPayload:
		fCnt := pl.FHDR.FCnt
		frame.DevAddr = pl.FHDR.DevAddr.String()
		frame.FCnt = &fCnt
		frame.FPort = pl.FPort
	case *lorawan.JoinRequestPayload:
		frame.DevEUI = pl.DevEUI.String()
	}
	return true
}
