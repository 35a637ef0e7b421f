// Package monitor polls consumer-group lag across every configured
// cluster, classifies severity, and raises one throttled, aggregated
// notification per cluster.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nipunap/kafkawatch/internal/config"
	"github.com/nipunap/kafkawatch/internal/events"
)

// Severity of an aggregated lag notification.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Source supplies the lag data the monitor polls. Implemented by the
// cluster client facade.
type Source interface {
	Clusters() []string
	GroupIDs(ctx context.Context, cluster string) ([]string, error)
	TotalGroupLag(ctx context.Context, cluster, group string) (int64, error)
}

// Notifier is the external surface notifications are pushed to.
type Notifier interface {
	Notify(severity Severity, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(severity Severity, message string)

func (f NotifierFunc) Notify(severity Severity, message string) { f(severity, message) }

// maxNamedGroups bounds how many group IDs a notification enumerates;
// the rest collapse into "and N more".
const maxNamedGroups = 3

// Monitor is the lag-polling control loop: Stopped -> Running ->
// Stopped. Ticks run on a single goroutine, so two ticks never overlap
// and the per-cluster throttle state is read and written without races.
type Monitor struct {
	cfg      config.MonitorConfig
	source   Source
	notifier Notifier
	bus      *events.Bus
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	lastAlert map[string]time.Time
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// New returns a stopped monitor.
func New(cfg config.MonitorConfig, source Source, notifier Notifier, bus *events.Bus, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:       cfg,
		source:    source,
		notifier:  notifier,
		bus:       bus,
		logger:    logger,
		now:       time.Now,
		lastAlert: make(map[string]time.Time),
	}
}

// Start begins polling. No-op when monitoring is disabled or already
// running.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cfg.Enabled || m.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.run(ctx, m.done)

	m.logger.Info("lag monitor started", "interval", m.cfg.Interval)
}

// Stop cancels the polling loop and waits for it to exit. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done

	m.logger.Info("lag monitor stopped")
}

// Running reports the monitor's state.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A slow check lets the ticker drop overlapping fires, so
			// ticks serialize rather than queue.
			m.CheckAll(ctx)
		}
	}
}

// CheckAll runs one tick over every cluster. A cluster's failure never
// blocks the others.
func (m *Monitor) CheckAll(ctx context.Context) {
	for _, cluster := range m.source.Clusters() {
		if ctx.Err() != nil {
			return
		}
		m.CheckClusterLag(ctx, cluster)
	}
}

// groupLag pairs a group with its classified total lag.
type groupLag struct {
	group    string
	lag      int64
	severity Severity
}

// CheckClusterLag performs one monitoring pass for a single cluster.
// Errors are logged and swallowed at cluster and group granularity;
// the method never propagates them.
func (m *Monitor) CheckClusterLag(ctx context.Context, cluster string) {
	groups, err := m.source.GroupIDs(ctx, cluster)
	if err != nil {
		m.logger.Warn("skipping cluster for this tick", "cluster", cluster, "error", err)
		return
	}

	atRisk := make([]groupLag, 0)
	for _, group := range groups {
		lag, err := m.source.TotalGroupLag(ctx, cluster, group)
		if err != nil {
			// Partial failure: other groups still proceed.
			m.logger.Warn("skipping group for this tick", "cluster", cluster, "group", group, "error", err)
			continue
		}

		severity, ok := m.classify(lag)
		if !ok {
			continue
		}
		atRisk = append(atRisk, groupLag{group: group, lag: lag, severity: severity})
	}

	if len(atRisk) == 0 {
		return
	}

	m.notify(cluster, atRisk)
}

// classify buckets a group's total lag. Thresholds are inclusive:
// lag equal to a threshold lands in that band.
func (m *Monitor) classify(lag int64) (Severity, bool) {
	switch {
	case lag >= m.cfg.CriticalThreshold:
		return SeverityCritical, true
	case lag >= m.cfg.WarningThreshold:
		return SeverityWarning, true
	default:
		return "", false
	}
}

// notify aggregates the at-risk groups into a single notification,
// applying the per-cluster throttle window. Suppressed notifications
// are dropped, not queued.
func (m *Monitor) notify(cluster string, atRisk []groupLag) {
	now := m.now()

	m.mu.Lock()
	last, seen := m.lastAlert[cluster]
	if seen && now.Sub(last) < m.cfg.ThrottleWindow {
		m.mu.Unlock()
		m.logger.Debug("lag notification throttled", "cluster", cluster, "last_alert", last)
		return
	}
	m.lastAlert[cluster] = now
	m.mu.Unlock()

	critical := 0
	warning := 0
	for _, entry := range atRisk {
		if entry.severity == SeverityCritical {
			critical++
		} else {
			warning++
		}
	}

	severity := SeverityWarning
	if critical > 0 {
		severity = SeverityCritical
	}

	m.notifier.Notify(severity, buildMessage(cluster, atRisk))

	if m.bus != nil {
		// Counts only: never group IDs, lag values, or credentials.
		m.bus.Emit(events.KindLagAlert, events.LagAlert{
			Cluster:        cluster,
			CriticalGroups: critical,
			WarningGroups:  warning,
			TotalGroups:    len(atRisk),
		})
	}

	m.logger.Info("lag notification sent",
		"cluster", cluster,
		"severity", severity,
		"critical_groups", critical,
		"warning_groups", warning,
	)
}

// buildMessage enumerates the first maxNamedGroups group IDs in
// discovery order, then collapses the remainder.
func buildMessage(cluster string, atRisk []groupLag) string {
	named := make([]string, 0, maxNamedGroups)
	for i, entry := range atRisk {
		if i == maxNamedGroups {
			break
		}
		named = append(named, entry.group)
	}

	message := fmt.Sprintf("Consumer lag detected on cluster %q: %s", cluster, strings.Join(named, ", "))
	if extra := len(atRisk) - maxNamedGroups; extra > 0 {
		message += fmt.Sprintf(" and %d more", extra)
	}

	return message
}
