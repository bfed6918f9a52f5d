package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/sells-group/fsa-maps/internal/config"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{
		CheckIntervalSecs:   1,
		LookbackWindowHours: 24,
	}
	checker := NewChecker(newTestCollector(&mockStore{}), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(newTestCollector(&mockStore{}), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.NotNil(t, checker)

	// Zero interval falls back to the default; a cancelled context returns at once.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_Check(t *testing.T) {
	cfg := config.MonitoringConfig{LookbackWindowHours: 24}
	checker := NewChecker(newTestCollector(&mockStore{}), NewAlerter(cfg), cfg)

	alerts := checker.check(context.Background(), zap.NewNop())
	assert.Len(t, alerts, 1)
	assert.Equal(t, AlertNoSnapshot, alerts[0].Type)
}
