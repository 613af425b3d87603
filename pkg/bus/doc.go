// Package bus provides the publish/subscribe client used to reach the mesh
// gateway.
//
// The gateway bridges the radio mesh onto an MQTT broker. Probe requests are
// published to the gateway's downlink topic, and the gateway reports every
// packet a node transmits or receives on per-node uplink topics.
//
// # Listeners
//
// A Client owns its subscriptions for its whole lifetime. Messages matching
// any subscription are handed to a Dispatcher, which fans them out to the
// currently attached Listeners:
//
//	l := client.Listen()
//	defer l.Close()
//
//	for msg := range l.C() {
//	    ...
//	}
//
// Each listener receives messages in arrival order on a buffered channel.
// Delivery never blocks the transport; when a listener falls behind, messages
// for that listener are dropped and counted.
//
// # Implementations
//
//   - MQTTClient talks to a real broker (Eclipse Paho).
//   - MemoryBus is an in-process broker with MQTT wildcard semantics, used by
//     tests and the gateway simulator.
package bus
