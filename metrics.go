package modlife

import (
	"time"
)

// maxResponseTimeSamples bounds the per-module response-time ring buffer.
const maxResponseTimeSamples = 1000

// ModuleMetrics holds the raw runtime counters for one module. Owned by the
// Monitor; access is serialized by the Monitor's lock.
type ModuleMetrics struct {
	StartTime     time.Time `json:"startTime"`
	RequestCount  int64     `json:"requestCount"`
	ErrorCount    int64     `json:"errorCount"`
	LastError     string    `json:"lastError,omitempty"`
	LastErrorTime time.Time `json:"lastErrorTime,omitempty"`

	// responseTimes is a bounded ring; the oldest sample is evicted when
	// the bound is reached.
	responseTimes []float64
	next          int
	filled        bool
}

func newModuleMetrics() *ModuleMetrics {
	return &ModuleMetrics{
		StartTime:     time.Now(),
		responseTimes: make([]float64, 0, 64),
	}
}

// record counts one request, appending its response time and noting the
// error if the request failed.
func (m *ModuleMetrics) record(responseTimeMs float64, err error) {
	m.RequestCount++
	if err != nil {
		m.ErrorCount++
		m.LastError = err.Error()
		m.LastErrorTime = time.Now()
	}

	if len(m.responseTimes) < maxResponseTimeSamples {
		m.responseTimes = append(m.responseTimes, responseTimeMs)
		return
	}
	m.responseTimes[m.next] = responseTimeMs
	m.next = (m.next + 1) % maxResponseTimeSamples
	m.filled = true
}

// averageResponseTime returns the mean of the retained samples, 0 when none
// have been recorded.
func (m *ModuleMetrics) averageResponseTime() float64 {
	if len(m.responseTimes) == 0 {
		return 0
	}
	var total float64
	for _, sample := range m.responseTimes {
		total += sample
	}
	return total / float64(len(m.responseTimes))
}

// errorRate returns errors per request, 0 when no requests were recorded.
func (m *ModuleMetrics) errorRate() float64 {
	if m.RequestCount == 0 {
		return 0
	}
	return float64(m.ErrorCount) / float64(m.RequestCount)
}

// SampleCount returns the number of retained response-time samples.
func (m *ModuleMetrics) SampleCount() int {
	return len(m.responseTimes)
}

// snapshot copies the metrics so callers never share the ring buffer.
func (m *ModuleMetrics) snapshot() *ModuleMetrics {
	cp := *m
	cp.responseTimes = append([]float64(nil), m.responseTimes...)
	return &cp
}
