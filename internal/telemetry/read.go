package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// CounterValue returns the current value of the counter or gauge series in c
// whose labels include want. Returns 0 when no such series exists yet.
func CounterValue(c prometheus.Collector, want prometheus.Labels) float64 {
	ch := make(chan prometheus.Metric, 32)
	go func() {
		c.Collect(ch)
		close(ch)
	}()
	var value float64
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		if labelsMatch(dm.GetLabel(), want) {
			if g := dm.GetGauge(); g != nil {
				value = g.GetValue()
			} else {
				value = dm.GetCounter().GetValue()
			}
		}
	}
	return value
}

func labelsMatch(got []*dto.LabelPair, want prometheus.Labels) bool {
	for k, v := range want {
		found := false
		for _, lp := range got {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
