package metric

import (
	"fmt"

	gometrics "github.com/rcrowley/go-metrics"
)

// ThroughputMeter tracks an event rate (committed txs, gossiped frames).
type ThroughputMeter struct {
	meter gometrics.Meter
}

func NewThroughputMeter() *ThroughputMeter {
	return &ThroughputMeter{meter: gometrics.NewMeter()}
}

// Mark records n events.
func (tm *ThroughputMeter) Mark(n int64) {
	tm.meter.Mark(n)
}

// Count returns the total events recorded.
func (tm *ThroughputMeter) Count() int64 {
	return tm.meter.Count()
}

func (tm *ThroughputMeter) JSONString() string {
	return fmt.Sprintf(`{"count":%d,"rate_1m":%.2f,"rate_mean":%.2f}`,
		tm.meter.Count(), tm.meter.Rate1(), tm.meter.RateMean())
}
