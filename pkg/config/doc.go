// Package config loads and validates the meshprobe configuration file.
//
// The file is YAML. Durations are given in milliseconds and node ids in their
// textual form ("!1234abcd"):
//
//	url: tcp://broker:1883
//	topic: msh/EU_868
//	uplinkChannel: LongFast
//	from: "!1234abcd"
//	to: "!5678ef01"
//	extraLoad: 0
//	timeout: 10000
//	interval: 30000
//
// Load returns a *LoadError for every failure. LoadError wraps ErrMissingField
// or ErrInvalidValue for validation failures, and the I/O or YAML error
// otherwise.
package config
