package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestMetric() *MetricSet {
	m := NewMetricSet()
	m.metrics["TEST"] = &mockMetricItem{name: "TEST"}
	return m
}

func TestMetricSet_HasMetrics(t *testing.T) {
	metric := newTestMetric()

	assert.True(t, metric.HasMetrics("TEST"), "should contain label(TEST)")
	assert.False(t, metric.HasMetrics("FTEST"), "shouldn't contain label(FTEST)")
}

func TestMetricSet_SetMetrics(t *testing.T) {
	metric := newTestMetric()

	mockItem := &mockMetricItem{name: "TEST"}
	assert.NotNil(t, metric.SetMetrics("TEST", mockItem), "label(TEST) must not be registered twice")

	assert.Nil(t, metric.SetMetrics("TEST1", mockItem), "label(TEST1) should register")

	assert.True(t, metric.HasMetrics("TEST"), "should contain label(TEST)")
	assert.True(t, metric.HasMetrics("TEST1"), "should contain label(TEST1)")
}

func TestMetricSet_GetAlllabels(t *testing.T) {
	metric := newTestMetric()

	labels := metric.GetAlllabels()

	assert.Equal(t, 1, len(labels), "len(labels) == 1")
	assert.Equal(t, "TEST", labels[0], "labels[0] ==\"TEST\"")
}

func TestThroughputMeter(t *testing.T) {
	meter := NewThroughputMeter()
	meter.Mark(3)
	meter.Mark(2)

	assert.EqualValues(t, 5, meter.Count())
	assert.Contains(t, meter.JSONString(), `"count":5`)
}
