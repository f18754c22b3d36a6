package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/wecom-scheduler/internal/scheduler"
)

const (
	metricsStreamName = "WECOM_METRICS"
	metricsSubject    = "wecom.metrics"
)

// Snapshot is one published metrics sample
type Snapshot struct {
	Timestamp   time.Time               `json:"timestamp"`
	CPUUsage    float64                 `json:"cpu_usage"`
	MemoryUsage float64                 `json:"memory_usage"`
	Cycles      int64                   `json:"cycles"`
	Checked     int64                   `json:"checked"`
	Dispatched  int64                   `json:"dispatched"`
	Failed      int64                   `json:"failed"`
	LastCycle   *scheduler.CycleSummary `json:"last_cycle,omitempty"`
}

// Reporter aggregates poll-cycle statistics and periodically publishes a
// snapshot, including host resource usage, for external observers.
type Reporter struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	interval time.Duration

	mu         sync.Mutex
	cycles     int64
	checked    int64
	dispatched int64
	failed     int64
	lastCycle  *scheduler.CycleSummary

	stop chan struct{}
}

// NewReporter creates a new metrics reporter
func NewReporter(js nats.JetStreamContext, interval time.Duration, logger *zap.Logger) *Reporter {
	return &Reporter{
		logger:   logger.Named("metrics-reporter"),
		js:       js,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start ensures the metrics stream exists and begins periodic publication
func (r *Reporter) Start(ctx context.Context) error {
	r.logger.Info("Starting metrics reporter")

	_, err := r.js.StreamInfo(metricsStreamName)
	if err != nil {
		if err != nats.ErrStreamNotFound {
			return fmt.Errorf("failed to get stream info: %w", err)
		}

		_, err = r.js.AddStream(&nats.StreamConfig{
			Name:     metricsStreamName,
			Subjects: []string{metricsSubject},
			Storage:  nats.FileStorage,
			MaxAge:   24 * time.Hour,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		r.logger.Info("Created metrics stream", zap.String("name", metricsStreamName))
	}

	go r.publishLoop(ctx)
	return nil
}

// Stop stops the metrics reporter
func (r *Reporter) Stop() {
	r.logger.Info("Stopping metrics reporter")
	close(r.stop)
}

// RecordCycle folds one poll-cycle summary into the aggregate counters
func (r *Reporter) RecordCycle(summary scheduler.CycleSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cycles++
	r.checked += int64(summary.Checked)
	r.dispatched += int64(summary.Dispatched)
	r.failed += int64(summary.Failed)
	r.lastCycle = &summary
}

// publishLoop runs the periodic snapshot publication
func (r *Reporter) publishLoop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.publishSnapshot()
		}
	}
}

// publishSnapshot samples host resources and publishes the current counters
func (r *Reporter) publishSnapshot() {
	cpuPercent, err := cpu.Percent(time.Second, false)
	if err != nil {
		r.logger.Error("Failed to get CPU usage", zap.Error(err))
		return
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		r.logger.Error("Failed to get memory usage", zap.Error(err))
		return
	}

	r.mu.Lock()
	snapshot := Snapshot{
		Timestamp:   time.Now(),
		CPUUsage:    cpuPercent[0],
		MemoryUsage: memInfo.UsedPercent,
		Cycles:      r.cycles,
		Checked:     r.checked,
		Dispatched:  r.dispatched,
		Failed:      r.failed,
		LastCycle:   r.lastCycle,
	}
	r.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		r.logger.Error("Failed to marshal snapshot", zap.Error(err))
		return
	}

	if _, err := r.js.Publish(metricsSubject, data); err != nil {
		r.logger.Error("Failed to publish snapshot", zap.Error(err))
		return
	}

	r.logger.Debug("Published metrics snapshot",
		zap.Float64("cpu_usage", snapshot.CPUUsage),
		zap.Float64("memory_usage", snapshot.MemoryUsage),
		zap.Int64("cycles", snapshot.Cycles))
}
