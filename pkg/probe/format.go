package probe

import (
	"fmt"
	"strconv"
	"time"
)

// TimestampLayout is the layout of result line timestamps, always in UTC.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// FormatLine renders a result as a single console line.
//
//	2024-05-01T12:00:00.000Z    412 0000beef  -80    7.5
//	2024-05-01T12:00:30.000Z timeout (no rx report)
//	2024-05-01T12:01:00.000Z failure (no tx report)
func FormatLine(r Result) string {
	ts := FormatTimestamp(r.Start)
	o := r.Outcome
	switch o.Status {
	case StatusSuccess:
		return fmt.Sprintf("%s %6d %s %4s %6s", ts,
			o.Delay.Milliseconds(), o.PacketID, formatFloat(o.RSSI), formatFloat(o.SNR))
	case StatusTimeout:
		return ts + " timeout (no rx report)"
	case StatusNotTransmitted:
		return ts + " failure (no tx report)"
	default:
		return ts + " failure (internal error)"
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
