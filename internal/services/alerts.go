/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
    "context"
    "fmt"
    "sort"
    "strings"
    "sync"
    "time"

    "github.com/google/uuid"
    "github.com/rs/zerolog"

    "github.com/joneal2022/agent-experimentation/internal/config"
    "github.com/joneal2022/agent-experimentation/internal/domain"
)

// AlertSink persists alert state transitions. The engine keeps working
// in memory when persistence fails; writes are best effort.
type AlertSink interface {
    InsertAlert(ctx context.Context, a domain.Alert) error
    UpdateAlertStatus(ctx context.Context, a domain.Alert) error
    InsertNotificationLog(ctx context.Context, n domain.NotificationLog) error
}

// Channel delivers one alert to one destination.
type Channel interface {
    Name() string
    Enabled() bool
    Send(ctx context.Context, a domain.Alert) error
}

const dedupWindow = time.Hour

type AlertEngine struct {
    mu     sync.Mutex
    alerts map[string]domain.Alert

    sink     AlertSink
    channels []Channel
    log      zerolog.Logger

    stalledThreshold    int
    overdueThreshold    int
    failureThreshold    int
    stalledResolveBelow int
}

func NewAlertEngine(cfg config.Config, sink AlertSink, channels []Channel, log zerolog.Logger) *AlertEngine {
    return &AlertEngine{
        alerts:              map[string]domain.Alert{},
        sink:                sink,
        channels:            channels,
        log:                 log,
        stalledThreshold:    cfg.StalledAlertThreshold,
        overdueThreshold:    cfg.OverdueAlertThreshold,
        failureThreshold:    cfg.FailureAlertThreshold,
        stalledResolveBelow: cfg.StalledResolveBelow,
    }
}

// WarmStart reloads previously persisted open alerts so dedup survives
// restarts.
func (e *AlertEngine) WarmStart(alerts []domain.Alert) {
    e.mu.Lock()
    defer e.mu.Unlock()
    for _, a := range alerts { e.alerts[a.ID] = a }
}

// Raise creates an alert unless an open one with the same type and title
// was created inside the dedup window, in which case the existing alert
// is touched and returned. The window is anchored to creation time, so a
// condition that persists past the window produces a fresh alert.
func (e *AlertEngine) Raise(ctx context.Context, a domain.Alert) (domain.Alert, bool) {
    now := time.Now().UTC()
    e.mu.Lock()
    for id, ex := range e.alerts {
        if ex.Type != a.Type || ex.Title != a.Title { continue }
        if ex.Status != domain.AlertActive && ex.Status != domain.AlertAcknowledged { continue }
        if now.Sub(ex.FirstDetected) > dedupWindow { continue }
        ex.LastUpdated = now
        e.alerts[id] = ex
        e.mu.Unlock()
        if e.sink != nil {
            if err := e.sink.UpdateAlertStatus(ctx, ex); err != nil {
                e.log.Warn().Err(err).Str("alert", id).Msg("alert touch persist failed")
            }
        }
        return ex, false
    }
    a.ID = uuid.NewString()
    a.Status = domain.AlertActive
    a.FirstDetected = now
    a.LastUpdated = now
    e.alerts[a.ID] = a
    e.mu.Unlock()

    if e.sink != nil {
        if err := e.sink.InsertAlert(ctx, a); err != nil {
            e.log.Warn().Err(err).Str("alert", a.ID).Msg("alert persist failed")
        }
    }
    e.notify(ctx, a)
    return a, true
}

// notify fans the alert out to every enabled channel. Only high and
// critical alerts page anyone.
func (e *AlertEngine) notify(ctx context.Context, a domain.Alert) {
    if a.Severity != domain.SeverityCritical && a.Severity != domain.SeverityHigh { return }
    for _, ch := range e.channels {
        if ch == nil || !ch.Enabled() { continue }
        err := ch.Send(ctx, a)
        now := time.Now().UTC()
        nl := domain.NotificationLog{
            ID:      uuid.NewString(),
            AlertID: a.ID,
            Channel: ch.Name(),
            Subject: a.Title,
            Status:  "sent",
            SentAt:  &now,
        }
        if err != nil {
            nl.Status = "failed"
            nl.Error = err.Error()
            e.log.Error().Err(err).Str("channel", ch.Name()).Str("alert", a.ID).Msg("alert delivery failed")
        }
        if e.sink != nil {
            if perr := e.sink.InsertNotificationLog(ctx, nl); perr != nil {
                e.log.Warn().Err(perr).Msg("notification log persist failed")
            }
        }
    }
}

// CheckConditions evaluates portfolio thresholds against the current
// aggregate and raises or auto-resolves alerts accordingly.
func (e *AlertEngine) CheckConditions(ctx context.Context, agg domain.Aggregate) []domain.Alert {
    var raised []domain.Alert

    if agg.KPIs.StalledTickets > e.stalledThreshold {
        a, created := e.Raise(ctx, domain.Alert{
            Type:           domain.AlertStalledTicket,
            Severity:       domain.SeverityHigh,
            Title:          fmt.Sprintf("%d tickets stalled across portfolio", agg.KPIs.StalledTickets),
            Description:    fmt.Sprintf("Stalled ticket count %d exceeds threshold %d.", agg.KPIs.StalledTickets, e.stalledThreshold),
            Recommendation: "Review the stalled list and unblock or reassign the oldest items.",
            Context:        map[string]any{"stalled_count": agg.KPIs.StalledTickets, "threshold": e.stalledThreshold},
            AutoResolve:    true,
        })
        if created { raised = append(raised, a) }
    } else if agg.KPIs.StalledTickets < e.stalledResolveBelow {
        e.autoResolve(ctx, domain.AlertStalledTicket)
    }

    if agg.KPIs.OverdueTickets > e.overdueThreshold {
        a, created := e.Raise(ctx, domain.Alert{
            Type:           domain.AlertOverdueTicket,
            Severity:       domain.SeverityHigh,
            Title:          fmt.Sprintf("%d tickets past due date", agg.KPIs.OverdueTickets),
            Description:    fmt.Sprintf("Overdue ticket count %d exceeds threshold %d.", agg.KPIs.OverdueTickets, e.overdueThreshold),
            Recommendation: "Re-plan due dates or escalate capacity on the affected projects.",
            Context:        map[string]any{"overdue_count": agg.KPIs.OverdueTickets, "threshold": e.overdueThreshold},
        })
        if created { raised = append(raised, a) }
    }

    if agg.KPIs.FailedDeployments > e.failureThreshold {
        a, created := e.Raise(ctx, domain.Alert{
            Type:           domain.AlertDeploymentFailure,
            Severity:       domain.SeverityCritical,
            Title:          fmt.Sprintf("%d failures across testing and deployments", agg.KPIs.FailedDeployments),
            Description:    fmt.Sprintf("Combined failure count %d exceeds threshold %d.", agg.KPIs.FailedDeployments, e.failureThreshold),
            Recommendation: "Freeze further deployments until the failing cases are triaged.",
            Context:        map[string]any{"failure_count": agg.KPIs.FailedDeployments, "threshold": e.failureThreshold},
        })
        if created { raised = append(raised, a) }
    }

    for _, ph := range agg.ProjectHealth {
        if ph.Risk != "high" { continue }
        a, created := e.Raise(ctx, domain.Alert{
            Type:           domain.AlertProcessBottleneck,
            Severity:       domain.SeverityMedium,
            Title:          fmt.Sprintf("Project %s health degraded to %d/10", ph.ProjectKey, ph.HealthScore),
            Description:    fmt.Sprintf("%s has %d stalled, %d overdue and %d failed-testing tickets.", ph.ProjectKey, ph.Stalled, ph.Overdue, ph.FailedTests),
            Recommendation: "Schedule a delivery review with the project lead.",
            ProjectKey:     ph.ProjectKey,
            Client:         ph.Client,
            Context:        map[string]any{"health_score": ph.HealthScore},
        })
        if created { raised = append(raised, a) }
    }

    return raised
}

// RaiseSystemFailure flags that the refresh pipeline itself is broken.
func (e *AlertEngine) RaiseSystemFailure(ctx context.Context, detail string) domain.Alert {
    a, _ := e.Raise(ctx, domain.Alert{
        Type:           domain.AlertSystemFailure,
        Severity:       domain.SeverityCritical,
        Title:          "Dashboard data refresh failed on all sources",
        Description:    detail,
        Recommendation: "Check upstream credentials and availability; the dashboard is serving stale data.",
    })
    return a
}

// autoResolve closes open auto-resolvable alerts of the given type with
// the system as resolver.
func (e *AlertEngine) autoResolve(ctx context.Context, typ domain.AlertType) {
    now := time.Now().UTC()
    var resolved []domain.Alert
    e.mu.Lock()
    for id, a := range e.alerts {
        if a.Type != typ || !a.AutoResolve { continue }
        if a.Status != domain.AlertActive && a.Status != domain.AlertAcknowledged { continue }
        a.Status = domain.AlertResolved
        a.ResolvedAt = &now
        a.ResolvedBy = "system"
        a.LastUpdated = now
        e.alerts[id] = a
        resolved = append(resolved, a)
    }
    e.mu.Unlock()
    for _, a := range resolved {
        e.log.Info().Str("alert", a.ID).Str("type", string(a.Type)).Msg("alert auto-resolved")
        if e.sink != nil {
            if err := e.sink.UpdateAlertStatus(ctx, a); err != nil {
                e.log.Warn().Err(err).Str("alert", a.ID).Msg("auto-resolve persist failed")
            }
        }
    }
}

// Acknowledge marks an active alert as seen by a human.
func (e *AlertEngine) Acknowledge(ctx context.Context, id, by string) (domain.Alert, error) {
    now := time.Now().UTC()
    e.mu.Lock()
    a, ok := e.alerts[id]
    if !ok {
        e.mu.Unlock()
        return domain.Alert{}, fmt.Errorf("alert %s not found", id)
    }
    if a.Status == domain.AlertResolved {
        e.mu.Unlock()
        return domain.Alert{}, fmt.Errorf("alert %s already resolved", id)
    }
    a.Status = domain.AlertAcknowledged
    a.AcknowledgedAt = &now
    a.AcknowledgedBy = by
    a.LastUpdated = now
    e.alerts[id] = a
    e.mu.Unlock()
    if e.sink != nil {
        if err := e.sink.UpdateAlertStatus(ctx, a); err != nil {
            e.log.Warn().Err(err).Str("alert", id).Msg("acknowledge persist failed")
        }
    }
    return a, nil
}

// AlertFilter narrows List output; zero values match everything.
type AlertFilter struct {
    Status   domain.AlertStatus
    Severity domain.Severity
    Type     domain.AlertType
}

var severityRank = map[domain.Severity]int{
    domain.SeverityCritical: 0,
    domain.SeverityHigh:     1,
    domain.SeverityMedium:   2,
    domain.SeverityLow:      3,
    domain.SeverityInfo:     4,
}

// List returns matching alerts ordered by severity then recency.
func (e *AlertEngine) List(f AlertFilter) []domain.Alert {
    e.mu.Lock()
    out := make([]domain.Alert, 0, len(e.alerts))
    for _, a := range e.alerts {
        if f.Status != "" && a.Status != f.Status { continue }
        if f.Severity != "" && a.Severity != f.Severity { continue }
        if f.Type != "" && a.Type != f.Type { continue }
        out = append(out, a)
    }
    e.mu.Unlock()
    sort.Slice(out, func(i, j int) bool {
        if severityRank[out[i].Severity] != severityRank[out[j].Severity] {
            return severityRank[out[i].Severity] < severityRank[out[j].Severity]
        }
        if !out[i].LastUpdated.Equal(out[j].LastUpdated) {
            return out[i].LastUpdated.After(out[j].LastUpdated)
        }
        return strings.Compare(out[i].ID, out[j].ID) < 0
    })
    return out
}

// ActiveCriticalCount reports how many critical alerts are open.
func (e *AlertEngine) ActiveCriticalCount() int {
    e.mu.Lock()
    defer e.mu.Unlock()
    n := 0
    for _, a := range e.alerts {
        if a.Severity == domain.SeverityCritical &&
            (a.Status == domain.AlertActive || a.Status == domain.AlertAcknowledged) {
            n++
        }
    }
    return n
}
