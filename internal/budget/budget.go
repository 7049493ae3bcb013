// Package budget tracks cumulative spend per (provider, model) as an
// informational observer over the Invocation Recorder's write stream.
// spec.md's Credential model carries no budget field, so this never gates
// or denies an invocation — only internal/router's rate limiter and
// circuit breaker do that. Grounded on the teacher's budget.Monitor/Alert
// machinery; the tenant-keyed cost.Tracker it read from is gone, so it
// now subscribes to recorder.Recorder.OnRecorded instead.
package budget

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/llmgateway/gateway/internal/domain"
	"github.com/llmgateway/gateway/internal/metrics"
)

type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
	AlertLevelExceeded AlertLevel = "exceeded"
)

type Alert struct {
	ProviderName string
	ModelName    string
	Level        AlertLevel
	Budget       float64
	CurrentUse   float64
	Percentage   float64
	Timestamp    time.Time
}

type AlertHandler func(alert Alert)

type Thresholds struct {
	Warning  float64
	Critical float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Warning:  0.8,
		Critical: 0.95,
	}
}

// Monitor accumulates cost per (provider, model) key since the process
// started and raises an alert when cumulative spend crosses Budget's
// thresholds. There is no per-tenant notion to reset against a billing
// cycle — this is a single running total, not a monthly rollup.
type Monitor struct {
	mu            sync.RWMutex
	budget        float64 // 0 disables alerting entirely
	thresholds    Thresholds
	usage         map[string]float64
	lastAlerts    map[string]AlertLevel
	alertHandlers []AlertHandler
	dedup         AlertDeduplicator
}

// MonitorOption configures optional Monitor collaborators.
type MonitorOption func(*Monitor)

// WithDeduplicator replaces Monitor's default single-process lastAlerts
// map with dedup, so repeat-alert suppression holds across every gateway
// instance sharing one RedisDeduplicator rather than just this process.
func WithDeduplicator(dedup AlertDeduplicator) MonitorOption {
	return func(m *Monitor) { m.dedup = dedup }
}

func NewMonitor(budgetUSD float64, thresholds Thresholds, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		budget:     budgetUSD,
		thresholds: thresholds,
		usage:      make(map[string]float64),
		lastAlerts: make(map[string]AlertLevel),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) OnAlert(handler AlertHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertHandlers = append(m.alertHandlers, handler)
}

// Observe is registered via recorder.Recorder.OnRecorded. It never returns
// an error; alert handlers run synchronously on the calling goroutine.
func (m *Monitor) Observe(rec domain.InvocationRecord) {
	if rec.Cost == nil {
		return
	}
	key := rec.ProviderName + "/" + rec.ModelName

	m.mu.Lock()
	m.usage[key] += *rec.Cost
	total := m.usage[key]
	m.mu.Unlock()

	metrics.RecordCost(rec.ProviderName, rec.ModelName, *rec.Cost)

	if m.budget <= 0 {
		return
	}
	percentage := total / m.budget
	metrics.SetBudgetUsage(rec.ProviderName, rec.ModelName, percentage)

	var level AlertLevel
	switch {
	case percentage >= 1.0:
		level = AlertLevelExceeded
	case percentage >= m.thresholds.Critical:
		level = AlertLevelCritical
	case percentage >= m.thresholds.Warning:
		level = AlertLevelWarning
	default:
		m.mu.Lock()
		delete(m.lastAlerts, key)
		m.mu.Unlock()
		if m.dedup != nil {
			m.dedup.ClearAlert(context.Background(), key)
		}
		return
	}

	if m.dedup != nil {
		if !m.dedup.ShouldAlert(context.Background(), key, level) {
			return
		}
		m.mu.Lock()
		handlers := make([]AlertHandler, len(m.alertHandlers))
		copy(handlers, m.alertHandlers)
		m.mu.Unlock()
		m.fireAlert(rec, level, total, percentage, handlers)
		return
	}

	m.mu.Lock()
	lastLevel, hasLast := m.lastAlerts[key]
	if hasLast && lastLevel == level {
		m.mu.Unlock()
		return
	}
	m.lastAlerts[key] = level
	handlers := make([]AlertHandler, len(m.alertHandlers))
	copy(handlers, m.alertHandlers)
	m.mu.Unlock()

	m.fireAlert(rec, level, total, percentage, handlers)
}

func (m *Monitor) fireAlert(rec domain.InvocationRecord, level AlertLevel, total, percentage float64, handlers []AlertHandler) {
	alert := Alert{
		ProviderName: rec.ProviderName,
		ModelName:    rec.ModelName,
		Level:        level,
		Budget:       m.budget,
		CurrentUse:   total,
		Percentage:   percentage * 100,
		Timestamp:    rec.CompletedAt,
	}
	for _, handler := range handlers {
		handler(alert)
	}
}

// UsageFor returns cumulative spend recorded for a (provider, model) pair.
func (m *Monitor) UsageFor(providerName, modelName string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usage[providerName+"/"+modelName]
}

func LogAlertHandler(alert Alert) {
	slog.Warn("budget alert",
		"provider", alert.ProviderName,
		"model", alert.ModelName,
		"level", alert.Level,
		"budget", alert.Budget,
		"current_use", alert.CurrentUse,
		"percentage", alert.Percentage,
	)
}
