package budget

import (
	"testing"
	"time"

	"github.com/llmgateway/gateway/internal/domain"
)

func costPtr(f float64) *float64 { return &f }

func TestDefaultThresholds(t *testing.T) {
	th := DefaultThresholds()

	if th.Warning != 0.8 {
		t.Errorf("Warning threshold = %v, want 0.8", th.Warning)
	}
	if th.Critical != 0.95 {
		t.Errorf("Critical threshold = %v, want 0.95", th.Critical)
	}
}

func TestNewMonitor(t *testing.T) {
	monitor := NewMonitor(100.0, DefaultThresholds())
	if monitor == nil {
		t.Fatal("NewMonitor() returned nil")
	}
}

func TestMonitor_Observe_NoBudget(t *testing.T) {
	monitor := NewMonitor(0, DefaultThresholds())

	var got *Alert
	monitor.OnAlert(func(a Alert) { got = &a })

	monitor.Observe(domain.InvocationRecord{
		ProviderName: "openai",
		ModelName:    "gpt-4",
		Cost:         costPtr(1000),
		CompletedAt:  time.Now(),
	})

	if got != nil {
		t.Error("Observe() should not alert when no budget is configured")
	}
}

func TestMonitor_Observe_UnderBudget(t *testing.T) {
	monitor := NewMonitor(100.0, DefaultThresholds())

	var got *Alert
	monitor.OnAlert(func(a Alert) { got = &a })

	monitor.Observe(domain.InvocationRecord{
		ProviderName: "openai",
		ModelName:    "gpt-4",
		Cost:         costPtr(50),
		CompletedAt:  time.Now(),
	})

	if got != nil {
		t.Error("Observe() should not alert under the warning threshold")
	}
	if usage := monitor.UsageFor("openai", "gpt-4"); usage != 50 {
		t.Errorf("UsageFor() = %v, want 50", usage)
	}
}

func TestMonitor_Observe_WarningLevel(t *testing.T) {
	monitor := NewMonitor(100.0, DefaultThresholds())

	var got *Alert
	monitor.OnAlert(func(a Alert) { got = &a })

	monitor.Observe(domain.InvocationRecord{
		ProviderName: "openai",
		ModelName:    "gpt-4",
		Cost:         costPtr(85),
		CompletedAt:  time.Now(),
	})

	if got == nil {
		t.Fatal("Observe() should alert at warning level")
	}
	if got.Level != AlertLevelWarning {
		t.Errorf("Level = %v, want %v", got.Level, AlertLevelWarning)
	}
	if got.ProviderName != "openai" || got.ModelName != "gpt-4" {
		t.Errorf("unexpected alert key: %s/%s", got.ProviderName, got.ModelName)
	}
}

func TestMonitor_Observe_CriticalLevel(t *testing.T) {
	monitor := NewMonitor(100.0, DefaultThresholds())

	var got *Alert
	monitor.OnAlert(func(a Alert) { got = &a })

	monitor.Observe(domain.InvocationRecord{ProviderName: "openai", ModelName: "gpt-4", Cost: costPtr(96), CompletedAt: time.Now()})

	if got == nil {
		t.Fatal("Observe() should alert at critical level")
	}
	if got.Level != AlertLevelCritical {
		t.Errorf("Level = %v, want %v", got.Level, AlertLevelCritical)
	}
}

func TestMonitor_Observe_ExceededLevel(t *testing.T) {
	monitor := NewMonitor(100.0, DefaultThresholds())

	var got *Alert
	monitor.OnAlert(func(a Alert) { got = &a })

	monitor.Observe(domain.InvocationRecord{ProviderName: "openai", ModelName: "gpt-4", Cost: costPtr(110), CompletedAt: time.Now()})

	if got == nil {
		t.Fatal("Observe() should alert when exceeded")
	}
	if got.Level != AlertLevelExceeded {
		t.Errorf("Level = %v, want %v", got.Level, AlertLevelExceeded)
	}
}

func TestMonitor_Observe_NoRepeatAlerts(t *testing.T) {
	monitor := NewMonitor(100.0, DefaultThresholds())

	var count int
	monitor.OnAlert(func(a Alert) { count++ })

	rec := domain.InvocationRecord{ProviderName: "openai", ModelName: "gpt-4", Cost: costPtr(0), CompletedAt: time.Now()}

	rec.Cost = costPtr(85)
	monitor.Observe(rec)
	if count != 1 {
		t.Fatalf("expected 1 alert after first crossing, got %d", count)
	}

	rec.Cost = costPtr(1)
	monitor.Observe(rec)
	if count != 1 {
		t.Errorf("expected no repeat alert at the same level, got %d total", count)
	}
}

func TestMonitor_Observe_NilCostIgnored(t *testing.T) {
	monitor := NewMonitor(100.0, DefaultThresholds())

	monitor.Observe(domain.InvocationRecord{ProviderName: "openai", ModelName: "gpt-4", Cost: nil, CompletedAt: time.Now()})

	if usage := monitor.UsageFor("openai", "gpt-4"); usage != 0 {
		t.Errorf("UsageFor() = %v, want 0 for a record with unknown cost", usage)
	}
}

func TestLogAlertHandler(t *testing.T) {
	alert := Alert{
		ProviderName: "openai",
		ModelName:    "gpt-4",
		Level:        AlertLevelWarning,
		Budget:       100.0,
		CurrentUse:   85.0,
		Percentage:   85.0,
		Timestamp:    time.Now(),
	}

	LogAlertHandler(alert)
}
