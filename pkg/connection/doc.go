// Package connection provides retry pacing for broker connections.
//
// Dial attempts are spaced with exponential backoff plus jitter:
//
//	delay(n) = min(initial * multiplier^n, max) + random(0, delay * jitter)
//
// The default schedule is 1s, 2s, 4s, 8s, 16s, then 30s until the attempt
// budget is exhausted. A budget of one attempt disables retries, which is how
// the probe command fails fast when the broker is unreachable.
package connection
