// Package probe measures delivery latency between two mesh nodes through the
// gateway's MQTT bridge.
//
// # Measurement
//
// Each attempt publishes a text packet to the source node's downlink topic,
// tagged with a random 32-bit value rendered as hex (optionally padded with
// filler). The packet is sent with destination 0, so the target does not hand
// it to its client, and hop limit 0, so no other node relays it.
//
// The gateway then reports the packet twice on the uplink channel:
//
//  1. The source node reports its own transmission. The attempt records the
//     gateway's packet id and the time of this report.
//  2. The target node reports the reception of the same packet id. The delay
//     is the time between the two reports.
//
// Reports are recognized only by their content: sender, destination 0 and the
// exact tagged text. Unrelated traffic and malformed messages are ignored.
//
// # States
//
//	AwaitingTx ──tx report──▶ AwaitingRx ──rx report──▶ Success
//	    │                         │
//	 timeout                   timeout
//	    ▼                         ▼
//	NotTransmitted             Timeout
//
// The timeout runs from the start of the attempt, not from the transmit
// report.
//
// # Loop
//
// Engine.Loop runs one attempt at a time. Each iteration waits for both the
// attempt and the probe interval, so probes start every
// max(attempt duration, interval).
package probe
