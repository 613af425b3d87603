package bus

import "strings"

// MatchTopic reports whether topic matches the MQTT subscription pattern.
// "+" matches exactly one level and "#" matches the remaining levels,
// including the parent level itself ("a/#" matches "a").
func MatchTopic(pattern, topic string) bool {
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")

	for i, level := range p {
		if level == "#" {
			return i == len(p)-1
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(p) == len(t)
}
