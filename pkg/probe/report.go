package probe

// SendTextType is the gateway request type for text packets.
const SendTextType = "sendtext"

// request is a probe published to the gateway's downlink topic.
type request struct {
	From     uint32 `json:"from"`
	To       uint32 `json:"to"`
	HopLimit uint32 `json:"hopLimit"`
	Payload  string `json:"payload"`
	Type     string `json:"type"`
}

// report is a packet report emitted by the gateway on the uplink channel.
// Fields the probe does not use are not decoded.
type report struct {
	From    *uint32        `json:"from"`
	To      *uint32        `json:"to"`
	ID      PacketID       `json:"id"`
	Payload *reportPayload `json:"payload"`
	RSSI    float64        `json:"rssi"`
	SNR     float64        `json:"snr"`
}

type reportPayload struct {
	Text *string `json:"text"`
}
