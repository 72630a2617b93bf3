package types

import "time"

// UnixFloat renders t as Unix seconds with fractional part, the timestamp
// form used in tx and block headers.
func UnixFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
