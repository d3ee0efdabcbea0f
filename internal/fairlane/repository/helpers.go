package repository

import (
	"strconv"
	"time"
)

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// unixFloat converts a time to fractional unix seconds, the score format used
// by the leased sorted set and the rate-limiter state.
func unixFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
