/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
    "context"
    "testing"
    "time"

    "github.com/rs/zerolog"

    "github.com/joneal2022/agent-experimentation/internal/domain"
)

func newTestEngine() *AlertEngine {
    return NewAlertEngine(testConfig(), nil, nil, zerolog.Nop())
}

func TestRaiseDeduplicates(t *testing.T) {
    e := newTestEngine()
    ctx := context.Background()

    first, created := e.Raise(ctx, domain.Alert{
        Type:     domain.AlertStalledTicket,
        Severity: domain.SeverityHigh,
        Title:    "12 tickets stalled across portfolio",
    })
    if !created { t.Fatalf("first raise should create") }

    second, created := e.Raise(ctx, domain.Alert{
        Type:     domain.AlertStalledTicket,
        Severity: domain.SeverityHigh,
        Title:    "12 tickets stalled across portfolio",
    })
    if created { t.Fatalf("duplicate raise created a second alert") }
    if second.ID != first.ID {
        t.Fatalf("dedup returned different id: %s vs %s", second.ID, first.ID)
    }
    if !second.LastUpdated.After(first.LastUpdated) && !second.LastUpdated.Equal(first.LastUpdated) {
        t.Fatalf("dedup hit did not touch last_updated")
    }

    // Different title is a new alert.
    third, created := e.Raise(ctx, domain.Alert{
        Type:     domain.AlertStalledTicket,
        Severity: domain.SeverityHigh,
        Title:    "15 tickets stalled across portfolio",
    })
    if !created || third.ID == first.ID {
        t.Fatalf("distinct title should create a new alert")
    }
}

func TestRaiseAfterResolveCreatesNew(t *testing.T) {
    e := newTestEngine()
    ctx := context.Background()
    a, _ := e.Raise(ctx, domain.Alert{
        Type: domain.AlertStalledTicket, Severity: domain.SeverityHigh,
        Title: "stalled spike", AutoResolve: true,
    })
    e.autoResolve(ctx, domain.AlertStalledTicket)

    b, created := e.Raise(ctx, domain.Alert{
        Type: domain.AlertStalledTicket, Severity: domain.SeverityHigh,
        Title: "stalled spike",
    })
    if !created || b.ID == a.ID {
        t.Fatalf("resolved alert should not absorb a new raise")
    }
}

func TestCheckConditionsThresholds(t *testing.T) {
    e := newTestEngine()
    ctx := context.Background()

    agg := domain.Aggregate{KPIs: domain.KPIs{StalledTickets: 12, OverdueTickets: 7, FailedDeployments: 4}}
    raised := e.CheckConditions(ctx, agg)
    if len(raised) != 3 {
        t.Fatalf("raised %d alerts, want 3", len(raised))
    }
    types := map[domain.AlertType]domain.Severity{}
    for _, a := range raised { types[a.Type] = a.Severity }
    if types[domain.AlertStalledTicket] != domain.SeverityHigh {
        t.Fatalf("stalled alert severity = %v", types[domain.AlertStalledTicket])
    }
    if types[domain.AlertOverdueTicket] != domain.SeverityHigh {
        t.Fatalf("overdue alert severity = %v", types[domain.AlertOverdueTicket])
    }
    if types[domain.AlertDeploymentFailure] != domain.SeverityCritical {
        t.Fatalf("failure alert severity = %v", types[domain.AlertDeploymentFailure])
    }
    if e.ActiveCriticalCount() != 1 {
        t.Fatalf("active critical = %d, want 1", e.ActiveCriticalCount())
    }

    // Second run with the same numbers raises nothing new.
    if again := e.CheckConditions(ctx, agg); len(again) != 0 {
        t.Fatalf("identical conditions raised %d duplicates", len(again))
    }

    // Under every threshold: nothing raised, stalled auto-resolves.
    calm := domain.Aggregate{KPIs: domain.KPIs{StalledTickets: 2, OverdueTickets: 1, FailedDeployments: 0}}
    if raised := e.CheckConditions(ctx, calm); len(raised) != 0 {
        t.Fatalf("calm conditions raised alerts: %+v", raised)
    }
    for _, a := range e.List(AlertFilter{Type: domain.AlertStalledTicket}) {
        if a.Status != domain.AlertResolved {
            t.Fatalf("stalled alert not auto-resolved: %+v", a)
        }
        if a.ResolvedBy != "system" {
            t.Fatalf("auto-resolve attribution = %q, want system", a.ResolvedBy)
        }
    }
}

func TestCheckConditionsProjectDegradation(t *testing.T) {
    e := newTestEngine()
    agg := domain.Aggregate{
        ProjectHealth: []domain.ProjectHealth{
            {ProjectKey: "TALOS", Client: "Talos Energy", HealthScore: 4, Risk: "high", Stalled: 6, Overdue: 5},
            {ProjectKey: "WOOD", Client: "Wood Group", HealthScore: 9, Risk: "low"},
        },
    }
    raised := e.CheckConditions(context.Background(), agg)
    if len(raised) != 1 {
        t.Fatalf("raised %d, want 1 project alert", len(raised))
    }
    if raised[0].Type != domain.AlertProcessBottleneck || raised[0].ProjectKey != "TALOS" {
        t.Fatalf("wrong project alert: %+v", raised[0])
    }
}

func TestAcknowledge(t *testing.T) {
    e := newTestEngine()
    ctx := context.Background()
    a, _ := e.Raise(ctx, domain.Alert{
        Type: domain.AlertOverdueTicket, Severity: domain.SeverityHigh, Title: "overdue spike",
    })

    got, err := e.Acknowledge(ctx, a.ID, "pm@ops")
    if err != nil { t.Fatalf("acknowledge: %v", err) }
    if got.Status != domain.AlertAcknowledged || got.AcknowledgedBy != "pm@ops" || got.AcknowledgedAt == nil {
        t.Fatalf("acknowledge state: %+v", got)
    }

    if _, err := e.Acknowledge(ctx, "no-such-id", "pm@ops"); err == nil {
        t.Fatalf("unknown id should error")
    }

    // Acknowledged alerts still dedup.
    _, created := e.Raise(ctx, domain.Alert{
        Type: domain.AlertOverdueTicket, Severity: domain.SeverityHigh, Title: "overdue spike",
    })
    if created { t.Fatalf("acknowledged alert should still absorb raises") }
}

func TestListFilterAndOrdering(t *testing.T) {
    e := newTestEngine()
    ctx := context.Background()
    e.Raise(ctx, domain.Alert{Type: domain.AlertQualityIssue, Severity: domain.SeverityMedium, Title: "m"})
    e.Raise(ctx, domain.Alert{Type: domain.AlertDeploymentFailure, Severity: domain.SeverityCritical, Title: "c"})
    e.Raise(ctx, domain.Alert{Type: domain.AlertOverdueTicket, Severity: domain.SeverityHigh, Title: "h"})

    all := e.List(AlertFilter{})
    if len(all) != 3 {
        t.Fatalf("list = %d, want 3", len(all))
    }
    if all[0].Severity != domain.SeverityCritical || all[2].Severity != domain.SeverityMedium {
        t.Fatalf("severity ordering wrong: %+v", all)
    }
    crit := e.List(AlertFilter{Severity: domain.SeverityCritical})
    if len(crit) != 1 || crit[0].Title != "c" {
        t.Fatalf("severity filter: %+v", crit)
    }
    active := e.List(AlertFilter{Status: domain.AlertActive})
    if len(active) != 3 {
        t.Fatalf("status filter: %d", len(active))
    }
}

type recordingChannel struct {
    name string
    sent []domain.Alert
    fail bool
}

func (r *recordingChannel) Name() string  { return r.name }
func (r *recordingChannel) Enabled() bool { return true }
func (r *recordingChannel) Send(_ context.Context, a domain.Alert) error {
    if r.fail { return context.DeadlineExceeded }
    r.sent = append(r.sent, a)
    return nil
}

func TestNotifyOnlyHighAndCritical(t *testing.T) {
    ch := &recordingChannel{name: "test"}
    e := NewAlertEngine(testConfig(), nil, []Channel{ch}, zerolog.Nop())
    ctx := context.Background()

    e.Raise(ctx, domain.Alert{Type: domain.AlertQualityIssue, Severity: domain.SeverityMedium, Title: "quiet"})
    if len(ch.sent) != 0 {
        t.Fatalf("medium alert should not notify")
    }
    e.Raise(ctx, domain.Alert{Type: domain.AlertDeploymentFailure, Severity: domain.SeverityCritical, Title: "loud"})
    if len(ch.sent) != 1 || ch.sent[0].Title != "loud" {
        t.Fatalf("critical alert not delivered: %+v", ch.sent)
    }
    // Dedup hit must not re-notify.
    before := len(ch.sent)
    e.Raise(ctx, domain.Alert{Type: domain.AlertDeploymentFailure, Severity: domain.SeverityCritical, Title: "loud"})
    if len(ch.sent) != before {
        t.Fatalf("dedup hit re-notified")
    }
}

func TestWarmStartRestoresDedup(t *testing.T) {
    e := newTestEngine()
    now := time.Now().UTC()
    e.WarmStart([]domain.Alert{{
        ID: "persisted-1", Type: domain.AlertStalledTicket, Severity: domain.SeverityHigh,
        Status: domain.AlertActive, Title: "restored", FirstDetected: now, LastUpdated: now,
    }})
    got, created := e.Raise(context.Background(), domain.Alert{
        Type: domain.AlertStalledTicket, Severity: domain.SeverityHigh, Title: "restored",
    })
    if created || got.ID != "persisted-1" {
        t.Fatalf("warm start did not restore dedup: %+v created=%v", got, created)
    }
}

func TestDedupWindowAnchoredToCreation(t *testing.T) {
    e := newTestEngine()
    now := time.Now().UTC()
    // Open alert created past the window; recent touches must not extend it.
    e.WarmStart([]domain.Alert{{
        ID: "old-1", Type: domain.AlertStalledTicket, Severity: domain.SeverityHigh,
        Status: domain.AlertActive, Title: "stale condition",
        FirstDetected: now.Add(-2 * time.Hour), LastUpdated: now.Add(-time.Minute),
    }})
    got, created := e.Raise(context.Background(), domain.Alert{
        Type: domain.AlertStalledTicket, Severity: domain.SeverityHigh, Title: "stale condition",
    })
    if !created || got.ID == "old-1" {
        t.Fatalf("persisting condition past the window should raise a fresh alert: %+v created=%v", got, created)
    }
}
