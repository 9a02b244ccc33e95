package modlife

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(t *testing.T, options MonitorOptions) (*Registry, *Monitor, *recordingObserver) {
	t.Helper()
	bus := NewEventBus(&testLogger{t})
	observer := newRecordingObserver("monitor-test")
	require.NoError(t, bus.RegisterObserver(observer))

	registry := NewRegistry(nil, &testLogger{t})
	monitor, err := NewMonitor(registry, bus, &testLogger{t}, options)
	require.NoError(t, err)
	return registry, monitor, observer
}

func TestNewMonitorRejectsBadSchedule(t *testing.T) {
	registry := NewRegistry(nil, &testLogger{t})
	_, err := NewMonitor(registry, nil, &testLogger{t}, MonitorOptions{Schedule: "not a schedule"})
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestMonitorRecordRequestCounters(t *testing.T) {
	registry, monitor, _ := newTestMonitor(t, MonitorOptions{})
	require.NoError(t, registry.Register(testDescriptor("cache", "1.0.0")))

	for i := 0; i < 8; i++ {
		monitor.RecordRequest("cache", 10, nil)
	}
	monitor.RecordRequest("cache", 30, errors.New("boom"))
	monitor.RecordRequest("cache", 30, errors.New("boom again"))

	metrics, err := monitor.Metrics("cache")
	require.NoError(t, err)
	assert.Equal(t, int64(10), metrics.RequestCount)
	assert.Equal(t, int64(2), metrics.ErrorCount)
	assert.InDelta(t, 0.2, metrics.errorRate(), 0.0001)
	assert.InDelta(t, 14.0, metrics.averageResponseTime(), 0.0001)
	assert.Equal(t, "boom again", metrics.LastError)
}

func TestMonitorMetricsUnknownModule(t *testing.T) {
	_, monitor, _ := newTestMonitor(t, MonitorOptions{})

	_, err := monitor.Metrics("missing")
	assert.ErrorIs(t, err, ErrModuleNotFound)
	assert.ErrorIs(t, monitor.ResetMetrics("missing"), ErrModuleNotFound)
}

func TestMonitorResetMetrics(t *testing.T) {
	registry, monitor, _ := newTestMonitor(t, MonitorOptions{})
	require.NoError(t, registry.Register(testDescriptor("cache", "1.0.0")))

	monitor.RecordRequest("cache", 10, nil)
	require.NoError(t, monitor.ResetMetrics("cache"))

	metrics, err := monitor.Metrics("cache")
	require.NoError(t, err)
	assert.Zero(t, metrics.RequestCount)
	assert.Zero(t, metrics.SampleCount())
}

func TestMonitorHealthyModule(t *testing.T) {
	registry, monitor, _ := newTestMonitor(t, MonitorOptions{})
	require.NoError(t, registry.Register(testDescriptor("cache", "1.0.0")))
	monitor.RecordRequest("cache", 12, nil)

	status, err := monitor.HealthStatus("cache")
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Equal(t, StatusRegistered, status.Status)
	assert.Empty(t, status.Issues)
	assert.Equal(t, int64(1), status.Metrics.RequestCount)
}

func TestMonitorErrorStatusIsUnhealthy(t *testing.T) {
	registry, monitor, _ := newTestMonitor(t, MonitorOptions{})
	require.NoError(t, registry.Register(testDescriptor("cache", "1.0.0")))
	require.NoError(t, registry.UpdateStatus("cache", StatusLoading))
	require.NoError(t, registry.UpdateStatus("cache", StatusError))

	status, err := monitor.HealthStatus("cache")
	require.NoError(t, err)
	assert.False(t, status.Healthy)
	require.Len(t, status.Issues, 1)
	assert.Equal(t, IssueModuleError, status.Issues[0].Code)
	assert.Equal(t, SeverityCritical, status.Issues[0].Severity)
}

func TestMonitorUnloadedStatusIsUnhealthy(t *testing.T) {
	registry, monitor, _ := newTestMonitor(t, MonitorOptions{})
	require.NoError(t, registry.Register(testDescriptor("cache", "1.0.0")))
	require.NoError(t, registry.UpdateStatus("cache", StatusLoading))
	require.NoError(t, registry.UpdateStatus("cache", StatusLoaded))
	require.NoError(t, registry.UpdateStatus("cache", StatusUnloading))
	require.NoError(t, registry.UpdateStatus("cache", StatusUnloaded))

	status, err := monitor.HealthStatus("cache")
	require.NoError(t, err)
	assert.False(t, status.Healthy)
	require.Len(t, status.Issues, 1)
	assert.Equal(t, IssueModuleUnloaded, status.Issues[0].Code)
}

func TestMonitorRecentErrorWindow(t *testing.T) {
	registry, monitor, _ := newTestMonitor(t, MonitorOptions{
		RecentErrorWindow: 50 * time.Millisecond,
	})
	require.NoError(t, registry.Register(testDescriptor("cache", "1.0.0")))

	monitor.RecordRequest("cache", 10, errors.New("transient"))

	status, err := monitor.HealthStatus("cache")
	require.NoError(t, err)
	assert.False(t, status.Healthy)
	assert.Contains(t, issueCodes(status.Issues), IssueRecentError)

	// Outside the window the same error no longer degrades health.
	time.Sleep(60 * time.Millisecond)
	status, err = monitor.HealthStatus("cache")
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.NotContains(t, issueCodes(status.Issues), IssueRecentError)
}

func TestMonitorThresholdBreachesOnlyAppendIssues(t *testing.T) {
	registry, monitor, _ := newTestMonitor(t, MonitorOptions{
		Thresholds: HealthThresholds{
			MemoryUsageMB:   1000,
			CPUUsagePercent: 80,
			ErrorRate:       0.1,
			ResponseTimeMs:  5,
		},
		RecentErrorWindow: time.Nanosecond,
		MemoryUsageMB:     func() float64 { return 100 },
		CPUPercent:        func() float64 { return 95 },
	})
	require.NoError(t, registry.Register(testDescriptor("cache", "1.0.0")))

	// 2 errors in 10 requests (rate 0.2), slow average response time.
	for i := 0; i < 8; i++ {
		monitor.RecordRequest("cache", 20, nil)
	}
	monitor.RecordRequest("cache", 20, errors.New("boom"))
	monitor.RecordRequest("cache", 20, errors.New("boom"))
	time.Sleep(time.Millisecond) // step past the tiny error window

	status, err := monitor.HealthStatus("cache")
	require.NoError(t, err)
	assert.True(t, status.Healthy, "threshold breaches alone never flip healthiness")

	codes := issueCodes(status.Issues)
	assert.Contains(t, codes, IssueHighCPUUsage)
	assert.Contains(t, codes, IssueHighErrorRate)
	assert.Contains(t, codes, IssueSlowResponseTime)
	assert.NotContains(t, codes, IssueHighMemoryUsage)
}

func TestMonitorHighMemoryIssue(t *testing.T) {
	registry, monitor, _ := newTestMonitor(t, MonitorOptions{
		MemoryUsageMB: func() float64 { return 900 },
	})
	require.NoError(t, registry.Register(testDescriptor("cache", "1.0.0")))

	status, err := monitor.HealthStatus("cache")
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Contains(t, issueCodes(status.Issues), IssueHighMemoryUsage)
}

func TestMonitorAllHealthStatuses(t *testing.T) {
	registry, monitor, _ := newTestMonitor(t, MonitorOptions{})

	require.NoError(t, registry.Register(testDescriptor("mod-a", "1.0.0")))
	require.NoError(t, registry.Register(testDescriptor("mod-b", "1.0.0")))
	require.NoError(t, registry.UpdateStatus("mod-b", StatusLoading))
	require.NoError(t, registry.UpdateStatus("mod-b", StatusError))

	statuses := monitor.AllHealthStatuses()
	require.Len(t, statuses, 2)

	byID := make(map[string]*ModuleHealthStatus, len(statuses))
	for _, status := range statuses {
		byID[status.ModuleID] = status
	}
	assert.True(t, byID["mod-a"].Healthy)
	assert.False(t, byID["mod-b"].Healthy)
}

func TestMonitorStats(t *testing.T) {
	registry, monitor, _ := newTestMonitor(t, MonitorOptions{})
	require.NoError(t, registry.Register(testDescriptor("mod-a", "1.0.0")))
	require.NoError(t, registry.Register(testDescriptor("mod-b", "1.0.0")))

	for i := 0; i < 6; i++ {
		monitor.RecordRequest("mod-a", 5, nil)
	}
	monitor.RecordRequest("mod-b", 5, errors.New("boom"))
	monitor.RecordRequest("mod-b", 5, nil)

	stats := monitor.Stats()
	assert.Equal(t, 2, stats.TotalModules)
	assert.Equal(t, int64(8), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.TotalErrors)
	assert.InDelta(t, 0.125, stats.ErrorRate, 0.0001)
}

func TestMonitorTickEmitsEvents(t *testing.T) {
	registry, monitor, observer := newTestMonitor(t, MonitorOptions{Schedule: "@every 100ms"})
	require.NoError(t, registry.Register(testDescriptor("healthy", "1.0.0")))
	require.NoError(t, registry.Register(testDescriptor("broken", "1.0.0")))
	require.NoError(t, registry.UpdateStatus("broken", StatusLoading))
	require.NoError(t, registry.UpdateStatus("broken", StatusError))

	monitor.Start()
	defer monitor.Stop()

	observer.waitForEvent(t, EventTypeHealthCheck, 3*time.Second)
	alert := observer.waitForEvent(t, EventTypeHealthAlert, 3*time.Second)
	assert.Equal(t, "broken", alert.Subject())

	checked, err := registry.Get("broken")
	require.NoError(t, err)
	assert.False(t, checked.LastHealthCheck.IsZero())
}

func TestMonitorStartStopIdempotent(t *testing.T) {
	registry, monitor, _ := newTestMonitor(t, MonitorOptions{Schedule: "@every 1h"})
	require.NoError(t, registry.Register(testDescriptor("cache", "1.0.0")))

	monitor.Start()
	monitor.Start()
	monitor.Stop()
	monitor.Stop()
}

func TestModuleMetricsRingIsBounded(t *testing.T) {
	metrics := newModuleMetrics()
	for i := 0; i < maxResponseTimeSamples+250; i++ {
		metrics.record(float64(i), nil)
	}
	assert.Equal(t, maxResponseTimeSamples, metrics.SampleCount())
	assert.Equal(t, int64(maxResponseTimeSamples+250), metrics.RequestCount)
}

func issueCodes(issues []HealthIssue) []string {
	codes := make([]string, len(issues))
	for i, issue := range issues {
		codes[i] = issue.Code
	}
	return codes
}
