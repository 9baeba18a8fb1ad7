package platform

import (
	"strconv"
	"time"
)

// discordEpoch is the first millisecond of 2015, the epoch snowflake timestamps count from.
const discordEpoch = 1420070400000

// CompareIDs orders two snowflake ids numerically: -1 if a < b, 0 if equal, 1 if a > b.
// Unparseable ids fall back to length-then-lexical ordering.
func CompareIDs(a, b string) int {
	x, errA := strconv.ParseUint(a, 10, 64)
	y, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	}
	switch {
	case len(a) != len(b):
		if len(a) < len(b) {
			return -1
		}
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// SnowflakeTime returns the creation time encoded in a snowflake id.
func SnowflakeTime(id string) (time.Time, bool) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}, false
	}
	ms := int64(n>>22) + discordEpoch
	return time.UnixMilli(ms).UTC(), true
}

// SnowflakeAt returns the smallest snowflake id created at t.
func SnowflakeAt(t time.Time) string {
	ms := t.UnixMilli() - discordEpoch
	if ms < 0 {
		ms = 0
	}
	return strconv.FormatUint(uint64(ms)<<22, 10)
}
