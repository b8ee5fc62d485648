package gateway

import (
	"strconv"
	"time"
)

// Envelope kinds.
const (
	KindBands     = "bands"
	KindLineBreak = "break"
)

// appendEnvelope hand-crafts the websocket envelope:
//
//	{"channel":"...","kind":"...","data":{...},"ts":"...","seq":N}
//
// data must already be valid JSON.
func appendEnvelope(buf []byte, channel, kind string, data []byte, now time.Time, seq int64) []byte {
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","kind":"`...)
	buf = append(buf, kind...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}
