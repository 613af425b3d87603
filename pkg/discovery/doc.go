// Package discovery locates the MQTT broker with mDNS/DNS-SD.
//
// A broker URL of the form
//
//	mdns://[instance]
//
// is resolved by browsing _mqtt._tcp services in the local. domain. Without
// an instance name the first broker that answers is used. Any other URL is
// returned unchanged.
package discovery
