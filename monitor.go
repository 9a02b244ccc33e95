package modlife

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Health issue severities.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
)

// Health issue codes.
const (
	IssueModuleError      = "MODULE_ERROR"
	IssueModuleUnloaded   = "MODULE_UNLOADED"
	IssueRecentError      = "RECENT_ERROR"
	IssueHighMemoryUsage  = "HIGH_MEMORY_USAGE"
	IssueHighCPUUsage     = "HIGH_CPU_USAGE"
	IssueHighErrorRate    = "HIGH_ERROR_RATE"
	IssueSlowResponseTime = "SLOW_RESPONSE_TIME"
)

// HealthThresholds configures the metric levels that produce health issues.
// Threshold breaches append issues but never flip a module to unhealthy on
// their own; only module status problems and recent errors do that.
type HealthThresholds struct {
	MemoryUsageMB   float64 `json:"memoryUsageMB" yaml:"memoryUsageMB" toml:"memoryUsageMB"`
	CPUUsagePercent float64 `json:"cpuUsagePercent" yaml:"cpuUsagePercent" toml:"cpuUsagePercent"`
	ErrorRate       float64 `json:"errorRate" yaml:"errorRate" toml:"errorRate"`
	ResponseTimeMs  float64 `json:"responseTimeMs" yaml:"responseTimeMs" toml:"responseTimeMs"`
}

// DefaultHealthThresholds returns the standard thresholds.
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		MemoryUsageMB:   500,
		CPUUsagePercent: 80,
		ErrorRate:       0.1,
		ResponseTimeMs:  5000,
	}
}

// MonitorOptions configures the Monitor.
type MonitorOptions struct {
	// Schedule is a cron expression or @every duration for the periodic
	// health check. Defaults to "@every 30s".
	Schedule string

	// Thresholds for health issue generation. Zero value selects defaults.
	Thresholds HealthThresholds

	// RecentErrorWindow is how long after an error a module is considered
	// unhealthy. Defaults to 60s.
	RecentErrorWindow time.Duration

	// MemoryUsageMB overrides the host memory sampler. The default reads
	// heap allocation from runtime.ReadMemStats.
	MemoryUsageMB func() float64

	// CPUPercent supplies the host CPU share. The process CPU share is
	// not portably available from the runtime, so the default reports 0
	// and the CPU threshold never trips unless a sampler is supplied.
	CPUPercent func() float64
}

// HealthIssue is a severity-tagged observation about one module.
type HealthIssue struct {
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Code      string    `json:"code"`
}

// HealthMetrics are the derived metrics included in a health status.
type HealthMetrics struct {
	MemoryUsageMB         float64 `json:"memoryUsageMB"`
	CPUUsagePercent       float64 `json:"cpuUsagePercent"`
	RequestCount          int64   `json:"requestCount"`
	ErrorCount            int64   `json:"errorCount"`
	AverageResponseTimeMs float64 `json:"averageResponseTimeMs"`
}

// ModuleHealthStatus is computed fresh at query time, never cached beyond
// one monitor tick.
type ModuleHealthStatus struct {
	ModuleID  string         `json:"moduleId"`
	Healthy   bool           `json:"healthy"`
	Status    ModuleStatus   `json:"status"`
	Uptime    time.Duration  `json:"uptime"`
	LastCheck time.Time      `json:"lastCheck"`
	Metrics   *HealthMetrics `json:"metrics,omitempty"`
	Issues    []HealthIssue  `json:"issues,omitempty"`
}

// MonitorStats aggregates counters across all monitored modules.
type MonitorStats struct {
	TotalModules  int     `json:"totalModules"`
	TotalRequests int64   `json:"totalRequests"`
	TotalErrors   int64   `json:"totalErrors"`
	ErrorRate     float64 `json:"errorRate"`
}

// Monitor polls the Registry on a schedule, combines per-module runtime
// counters with derived metrics, evaluates configured thresholds and emits
// health-check and health-alert events.
type Monitor struct {
	registry *Registry
	subject  Subject
	logger   Logger
	options  MonitorOptions
	schedule cron.Schedule

	metrics map[string]*ModuleMetrics
	mu      sync.Mutex

	running bool
	done    chan struct{}
	runMu   sync.Mutex
}

// NewMonitor creates a monitor. The schedule is parsed eagerly so a bad
// expression fails construction rather than Start.
func NewMonitor(registry *Registry, subject Subject, logger Logger, options MonitorOptions) (*Monitor, error) {
	if options.Schedule == "" {
		options.Schedule = "@every 30s"
	}
	if options.Thresholds == (HealthThresholds{}) {
		options.Thresholds = DefaultHealthThresholds()
	}
	if options.RecentErrorWindow <= 0 {
		options.RecentErrorWindow = 60 * time.Second
	}
	if options.MemoryUsageMB == nil {
		options.MemoryUsageMB = heapAllocMB
	}
	if options.CPUPercent == nil {
		options.CPUPercent = func() float64 { return 0 }
	}

	schedule, err := cron.ParseStandard(options.Schedule)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, options.Schedule, err)
	}

	return &Monitor{
		registry: registry,
		subject:  subject,
		logger:   ensureLogger(logger),
		options:  options,
		schedule: schedule,
		metrics:  make(map[string]*ModuleMetrics),
	}, nil
}

// heapAllocMB reports the host process heap allocation in megabytes.
func heapAllocMB() float64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return float64(stats.HeapAlloc) / (1024 * 1024)
}

// Start seeds a metrics record for every registered module and begins the
// periodic health-check tick. Idempotent.
func (m *Monitor) Start() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return
	}

	m.mu.Lock()
	for _, descriptor := range m.registry.GetAll() {
		if _, exists := m.metrics[descriptor.ID]; !exists {
			m.metrics[descriptor.ID] = newModuleMetrics()
		}
	}
	m.mu.Unlock()

	m.running = true
	m.done = make(chan struct{})
	go m.run(m.done)
	m.logger.Info("Monitor started", "schedule", m.options.Schedule)
}

// Stop halts the periodic tick. Idempotent.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.done)
	m.logger.Info("Monitor stopped")
}

func (m *Monitor) run(done chan struct{}) {
	for {
		next := m.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-done:
			timer.Stop()
			return
		case <-timer.C:
			m.tick()
		}
	}
}

// tick evaluates health for every registered module, emitting a
// health-check event always and a health-alert event when unhealthy.
func (m *Monitor) tick() {
	now := time.Now()
	for _, descriptor := range m.registry.GetAll() {
		status, err := m.HealthStatus(descriptor.ID)
		if err != nil {
			m.logger.Warn("Health check failed", "module", descriptor.ID, "error", err)
			continue
		}
		if err := m.registry.MarkHealthChecked(descriptor.ID, now); err != nil {
			m.logger.Debug("Could not stamp health check", "module", descriptor.ID, "error", err)
		}

		m.emit(EventTypeHealthCheck, descriptor.ID, status)
		if !status.Healthy {
			m.emit(EventTypeHealthAlert, descriptor.ID, status)
		}
	}
}

// RecordRequest counts one module invocation with its response time, noting
// the error when the invocation failed. Called by whatever dispatches
// requests to modules; dispatch itself is outside this package.
func (m *Monitor) RecordRequest(moduleID string, responseTimeMs float64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureMetricsLocked(moduleID).record(responseTimeMs, err)
}

func (m *Monitor) ensureMetricsLocked(moduleID string) *ModuleMetrics {
	metrics, exists := m.metrics[moduleID]
	if !exists {
		metrics = newModuleMetrics()
		m.metrics[moduleID] = metrics
	}
	return metrics
}

// HealthStatus computes the current health of one module. Healthiness is
// driven by module status (error and unloaded are unhealthy) and by errors
// recorded within the recent-error window; threshold breaches only append
// issues.
func (m *Monitor) HealthStatus(moduleID string) (*ModuleHealthStatus, error) {
	descriptor, err := m.registry.Get(moduleID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	metrics := m.ensureMetricsLocked(moduleID).snapshot()
	m.mu.Unlock()

	now := time.Now()
	status := &ModuleHealthStatus{
		ModuleID:  moduleID,
		Healthy:   true,
		Status:    descriptor.Status,
		Uptime:    now.Sub(metrics.StartTime),
		LastCheck: now,
		Metrics: &HealthMetrics{
			MemoryUsageMB:         m.options.MemoryUsageMB(),
			CPUUsagePercent:       m.options.CPUPercent(),
			RequestCount:          metrics.RequestCount,
			ErrorCount:            metrics.ErrorCount,
			AverageResponseTimeMs: metrics.averageResponseTime(),
		},
	}

	switch descriptor.Status {
	case StatusError:
		status.Healthy = false
		status.Issues = append(status.Issues, HealthIssue{
			Severity:  SeverityCritical,
			Message:   fmt.Sprintf("module %s is in error status", moduleID),
			Timestamp: now,
			Code:      IssueModuleError,
		})
	case StatusUnloaded:
		status.Healthy = false
		status.Issues = append(status.Issues, HealthIssue{
			Severity:  SeverityHigh,
			Message:   fmt.Sprintf("module %s is unloaded", moduleID),
			Timestamp: now,
			Code:      IssueModuleUnloaded,
		})
	}

	if !metrics.LastErrorTime.IsZero() && now.Sub(metrics.LastErrorTime) < m.options.RecentErrorWindow {
		status.Healthy = false
		status.Issues = append(status.Issues, HealthIssue{
			Severity:  SeverityHigh,
			Message:   fmt.Sprintf("recent error: %s", metrics.LastError),
			Timestamp: metrics.LastErrorTime,
			Code:      IssueRecentError,
		})
	}

	thresholds := m.options.Thresholds
	if status.Metrics.MemoryUsageMB > thresholds.MemoryUsageMB {
		status.Issues = append(status.Issues, HealthIssue{
			Severity:  SeverityHigh,
			Message:   fmt.Sprintf("memory usage %.1fMB exceeds threshold %.1fMB", status.Metrics.MemoryUsageMB, thresholds.MemoryUsageMB),
			Timestamp: now,
			Code:      IssueHighMemoryUsage,
		})
	}
	if status.Metrics.CPUUsagePercent > thresholds.CPUUsagePercent {
		status.Issues = append(status.Issues, HealthIssue{
			Severity:  SeverityHigh,
			Message:   fmt.Sprintf("cpu usage %.1f%% exceeds threshold %.1f%%", status.Metrics.CPUUsagePercent, thresholds.CPUUsagePercent),
			Timestamp: now,
			Code:      IssueHighCPUUsage,
		})
	}
	if rate := metrics.errorRate(); rate > thresholds.ErrorRate {
		status.Issues = append(status.Issues, HealthIssue{
			Severity:  SeverityHigh,
			Message:   fmt.Sprintf("error rate %.3f exceeds threshold %.3f", rate, thresholds.ErrorRate),
			Timestamp: now,
			Code:      IssueHighErrorRate,
		})
	}
	if avg := status.Metrics.AverageResponseTimeMs; avg > thresholds.ResponseTimeMs {
		status.Issues = append(status.Issues, HealthIssue{
			Severity:  SeverityMedium,
			Message:   fmt.Sprintf("average response time %.1fms exceeds threshold %.1fms", avg, thresholds.ResponseTimeMs),
			Timestamp: now,
			Code:      IssueSlowResponseTime,
		})
	}

	return status, nil
}

// AllHealthStatuses computes health for every registered module, regardless
// of whether the module ever loaded.
func (m *Monitor) AllHealthStatuses() []*ModuleHealthStatus {
	descriptors := m.registry.GetAll()
	statuses := make([]*ModuleHealthStatus, 0, len(descriptors))
	for _, descriptor := range descriptors {
		status, err := m.HealthStatus(descriptor.ID)
		if err != nil {
			m.logger.Warn("Health status failed", "module", descriptor.ID, "error", err)
			continue
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Stats aggregates request and error counters across monitored modules.
func (m *Monitor) Stats() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MonitorStats{TotalModules: len(m.metrics)}
	for _, metrics := range m.metrics {
		stats.TotalRequests += metrics.RequestCount
		stats.TotalErrors += metrics.ErrorCount
	}
	if stats.TotalRequests > 0 {
		stats.ErrorRate = float64(stats.TotalErrors) / float64(stats.TotalRequests)
	}
	return stats
}

// Metrics returns a copy of the raw counters for one module.
func (m *Monitor) Metrics(moduleID string) (*ModuleMetrics, error) {
	if !m.registry.Has(moduleID) {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, moduleID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureMetricsLocked(moduleID).snapshot(), nil
}

// ResetMetrics discards the recorded counters for one module.
func (m *Monitor) ResetMetrics(moduleID string) error {
	if !m.registry.Has(moduleID) {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, moduleID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[moduleID] = newModuleMetrics()
	return nil
}

// emit publishes a monitor event when a subject is configured.
func (m *Monitor) emit(eventType, moduleID string, status *ModuleHealthStatus) {
	if m.subject == nil {
		return
	}
	event := NewModuleEvent(eventType, "monitor", moduleID, status)
	if err := m.subject.NotifyObservers(context.Background(), event); err != nil {
		m.logger.Error("Failed to notify observers", "event", eventType, "module", moduleID, "error", err)
	}
}
