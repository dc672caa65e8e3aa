package orchestrator

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/saadactin/Nitin-sir/internal/config"
	"github.com/saadactin/Nitin-sir/internal/sink"
	"github.com/saadactin/Nitin-sir/internal/source"
	"github.com/saadactin/Nitin-sir/internal/target"
)

// EndpointCheck is the probe result for one database endpoint.
type EndpointCheck struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	LatencyMs int64  `json:"latency_ms"`
	Databases int    `json:"databases,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CheckResult is the outcome of a connectivity check across every
// configured endpoint.
type CheckResult struct {
	Timestamp string          `json:"timestamp"`
	Healthy   bool            `json:"healthy"`
	Target    EndpointCheck   `json:"target"`
	Sources   []EndpointCheck `json:"sources"`
}

// HealthCheck probes the target and every source instance in parallel,
// each with its own timeout, so one slow endpoint cannot eat the
// others' budget. It opens its own short-lived connections rather than
// going through New, which refuses to construct when the target is
// down; a connectivity check has to keep working in exactly that case.
func HealthCheck(ctx context.Context, cfg *config.Config) *CheckResult {
	const checkTimeout = 30 * time.Second

	result := &CheckResult{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Sources:   make([]EndpointCheck, len(cfg.Sources)),
	}

	var wg sync.WaitGroup
	wg.Add(1 + len(cfg.Sources))

	go func() {
		defer wg.Done()
		start := time.Now()
		tctx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()

		result.Target.Name = fmt.Sprintf("%s:%d/%s",
			cfg.Target.Host, cfg.Target.Port, cfg.Target.Database)
		if pool, err := target.NewPool(tctx, &cfg.Target, 1); err != nil {
			result.Target.Error = err.Error()
		} else {
			result.Target.Connected = true
			pool.Close()
		}
		result.Target.LatencyMs = time.Since(start).Milliseconds()
	}()

	for i := range cfg.Sources {
		go func(i int, inst *config.SourceConfig) {
			defer wg.Done()
			start := time.Now()
			sctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()

			chk := EndpointCheck{Name: inst.Name}
			pool, err := source.NewPool(sctx, inst, "master", 1)
			if err != nil {
				chk.Error = err.Error()
			} else {
				chk.Connected = true
				if dbs, err := pool.ListDatabases(sctx); err == nil {
					chk.Databases = len(source.FilterDatabases(dbs, inst.SkipDatabases))
				}
				pool.Close()
			}
			chk.LatencyMs = time.Since(start).Milliseconds()
			result.Sources[i] = chk
		}(i, &cfg.Sources[i])
	}

	wg.Wait()

	result.Healthy = result.Target.Connected
	for i := range result.Sources {
		if !result.Sources[i].Connected {
			result.Healthy = false
		}
	}
	return result
}

// PreviewTable describes what one table would do in a real run.
type PreviewTable struct {
	Instance       string `json:"instance"`
	Database       string `json:"database"`
	Table          string `json:"table"`
	TargetSchema   string `json:"target_schema"`
	Strategy       string `json:"strategy"`
	Rows           int64  `json:"rows"`
	DeleteTracking bool   `json:"delete_tracking,omitempty"`
	HasMarker      bool   `json:"has_marker"`
	Marker         string `json:"marker,omitempty"`
}

// PreviewResult is a dry run: discovery and strategy selection without
// moving any data.
type PreviewResult struct {
	Instances   int            `json:"instances"`
	Databases   int            `json:"databases"`
	TotalTables int            `json:"total_tables"`
	TotalRows   int64          `json:"total_rows"`
	Workers     int            `json:"workers"`
	BatchSize   int            `json:"batch_size"`
	Tables      []PreviewTable `json:"tables"`
}

// Preview runs discovery and reports what a sync would do, table by
// table, without writing anything. Row counts are the source's
// partition statistics, not exact counts.
func (o *Orchestrator) Preview(ctx context.Context) (*PreviewResult, error) {
	plans, _, err := o.discover(ctx)
	if err != nil {
		return nil, err
	}

	result := &PreviewResult{
		Instances: len(o.cfg.Sources),
		Workers:   o.cfg.Sync.Workers,
		BatchSize: o.cfg.Sync.BatchSize,
	}

	for i := range plans {
		plan := &plans[i]
		if plan.Err != nil {
			return nil, fmt.Errorf("discovery failed on %s: %w", plan.Instance.Name, plan.Err)
		}
		for j := range plan.Databases {
			db := &plan.Databases[j]
			result.Databases++
			for k := range db.Units {
				u := &db.Units[k]
				pt := PreviewTable{
					Instance:       u.Instance,
					Database:       u.Database,
					Table:          u.Table.FullName(),
					TargetSchema:   u.TargetSchema,
					Strategy:       u.Strategy.Kind.String(),
					Rows:           u.Table.RowCount,
					DeleteTracking: u.DeleteTracking,
				}
				if m, err := o.store.GetMarker(u.Instance, u.Database, u.Table.FullName()); err == nil && m != nil {
					pt.HasMarker = true
					pt.Marker = m.Value
				}
				result.TotalRows += pt.Rows
				result.Tables = append(result.Tables, pt)
			}
		}
	}
	result.TotalTables = len(result.Tables)
	return result, nil
}

// recordHealthMetrics snapshots process and pool health into the
// telemetry sink at run boundaries.
func (o *Orchestrator) recordHealthMetrics(ctx context.Context, runID, phase string) {
	now := time.Now().UTC()
	labels := map[string]string{"run_id": runID, "phase": phase}
	stats := o.tgt.Stats()

	metrics := []struct {
		name  string
		value float64
	}{
		{"available_memory_mb", float64(config.AvailableMemoryMB())},
		{"goroutines", float64(runtime.NumGoroutine())},
		{"workers", float64(o.cfg.Sync.Workers)},
		{"target_pool_total_conns", float64(stats.TotalConns)},
		{"target_pool_in_use", float64(stats.AcquiredConns)},
	}
	for _, m := range metrics {
		o.rec.RecordHealthMetric(ctx, &sink.HealthMetricEntry{
			Name:       m.name,
			Value:      m.value,
			Labels:     labels,
			RecordedAt: now,
		})
	}
}
