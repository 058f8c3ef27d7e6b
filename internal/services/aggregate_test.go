/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
    "reflect"
    "testing"
    "time"

    "github.com/joneal2022/agent-experimentation/internal/domain"
)

func TestHealthScoreBandsAndClamp(t *testing.T) {
    agg := NewAggregator(testConfig())

    // 4 stalled (capped 3? 4*0.5=2), 2 overdue (1.4), 1 failed (1) -> 10-4.4 -> 6
    if got := agg.healthScore(4, 2, 1); got != 6 {
        t.Fatalf("healthScore(4,2,1) = %d, want 6", got)
    }
    if riskLevel(6) != "medium" {
        t.Fatalf("health 6 should be medium risk")
    }
    // Pristine project.
    if got := agg.healthScore(0, 0, 0); got != 10 {
        t.Fatalf("healthScore(0,0,0) = %d, want 10", got)
    }
    // Disaster project clamps at 1 and each penalty is capped.
    if got := agg.healthScore(100, 100, 100); got != 2 {
        t.Fatalf("healthScore caps: got %d, want 2 (10-3-3-2)", got)
    }
    if riskLevel(2) != "high" || riskLevel(8) != "low" {
        t.Fatalf("risk bands wrong")
    }
}

func TestBuildIsDeterministic(t *testing.T) {
    agg := NewAggregator(testConfig())
    now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
    tickets := []domain.Ticket{
        mkTicket("CMDR-1", "In Progress", true, false, false, 9),
        mkTicket("CMDR-2", "In Progress", false, true, false, 2),
        mkTicket("TALOS-1", "Blocked", true, true, false, 20),
        mkTicket("WOOD-1", "Level II Test Failed", false, false, true, 3),
        mkTicket("WOOD-2", "Done", false, false, false, 40),
    }
    a := agg.Build(tickets, nil, nil, now)
    b := agg.Build(tickets, nil, nil, now)
    if !reflect.DeepEqual(a, b) {
        t.Fatalf("same inputs produced different aggregates")
    }
}

func TestBuildTerminalExcludedFromProblems(t *testing.T) {
    agg := NewAggregator(testConfig())
    now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
    tickets := []domain.Ticket{
        mkTicket("CMDR-1", "In Progress", true, false, false, 9),
        // Flags set but status terminal; aggregation must not count it.
        mkTicket("CMDR-2", "Done", true, true, true, 30),
    }
    a := agg.Build(tickets, nil, nil, now)
    if a.KPIs.TotalTickets != 2 {
        t.Fatalf("total_tickets = %d, want 2", a.KPIs.TotalTickets)
    }
    if a.KPIs.StalledTickets != 1 || a.KPIs.OverdueTickets != 0 {
        t.Fatalf("terminal ticket leaked into problem counts: %+v", a.KPIs)
    }
    if len(a.UrgentItems.Stalled) != 1 || a.UrgentItems.Stalled[0].Key != "CMDR-1" {
        t.Fatalf("urgent stalled = %+v", a.UrgentItems.Stalled)
    }
}

func TestCriticalTicketCount(t *testing.T) {
    agg := NewAggregator(testConfig())
    now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
    urgent := mkTicket("CMDR-1", "In Progress", false, false, false, 2)
    urgent.Priority = "Highest"
    doneUrgent := mkTicket("CMDR-2", "Done", false, false, false, 2)
    doneUrgent.Priority = "Highest"
    tickets := []domain.Ticket{
        urgent,
        doneUrgent,
        mkTicket("CMDR-3", "Blocked", true, false, false, 9),
        mkTicket("CMDR-4", "In Progress", false, false, false, 1),
    }
    a := agg.Build(tickets, nil, nil, now)
    if a.KPIs.CriticalAlerts != 2 {
        t.Fatalf("critical_alerts = %d, want 2 (Highest priority + stalled; Done excluded)", a.KPIs.CriticalAlerts)
    }
}

func TestProjectHealthOrdering(t *testing.T) {
    agg := NewAggregator(testConfig())
    now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
    var tickets []domain.Ticket
    // TALOS: disaster (high risk, most stalled).
    for i := 0; i < 8; i++ {
        tickets = append(tickets, mkTicket(key("TALOS", i), "Blocked", true, true, false, 15))
    }
    // CMDR: medium.
    tickets = append(tickets,
        mkTicket("CMDR-1", "In Progress", true, false, false, 8),
        mkTicket("CMDR-2", "In Progress", true, true, false, 9),
        mkTicket("CMDR-3", "In Progress", true, true, false, 9),
        mkTicket("CMDR-4", "In Progress", true, false, true, 9),
    )
    // WOOD: healthy.
    tickets = append(tickets, mkTicket("WOOD-1", "In Progress", false, false, false, 1))

    a := agg.Build(tickets, nil, nil, now)
    if len(a.ProjectHealth) != 3 {
        t.Fatalf("projects = %d, want 3", len(a.ProjectHealth))
    }
    order := []string{a.ProjectHealth[0].ProjectKey, a.ProjectHealth[1].ProjectKey, a.ProjectHealth[2].ProjectKey}
    if order[0] != "TALOS" || order[2] != "WOOD" {
        t.Fatalf("ordering = %v, want worst first, healthiest last", order)
    }
    if a.ProjectHealth[0].Risk != "high" || a.ProjectHealth[2].Risk != "low" {
        t.Fatalf("risk levels = %+v", a.ProjectHealth)
    }
    if a.ProjectHealth[0].Client != "Talos Energy" {
        t.Fatalf("client mapping lost in aggregation: %+v", a.ProjectHealth[0])
    }
}

func key(prefix string, i int) string {
    return prefix + "-" + string(rune('1'+i))
}

func TestTrendsZeroFilled(t *testing.T) {
    agg := NewAggregator(testConfig())
    now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
    created := now.AddDate(0, 0, -3)
    resolved := now.AddDate(0, 0, -1)
    tickets := []domain.Ticket{
        {Key: "CMDR-1", ProjectKey: "CMDR", Status: "Done", Created: &created, Resolved: &resolved},
    }
    a := agg.Build(tickets, nil, nil, now)
    if len(a.Trends) != 30 {
        t.Fatalf("trend points = %d, want 30", len(a.Trends))
    }
    if a.Trends[0].Date != "2026-07-22" || a.Trends[29].Date != "2026-08-20" {
        t.Fatalf("trend window = %s..%s", a.Trends[0].Date, a.Trends[29].Date)
    }
    var createdSum, resolvedSum int
    for _, p := range a.Trends {
        createdSum += p.TicketsCreated
        resolvedSum += p.TicketsResolved
        if p.TicketsCreated != 0 && p.Date != "2026-08-17" {
            t.Fatalf("created count on wrong day %s", p.Date)
        }
    }
    if createdSum != 1 || resolvedSum != 1 {
        t.Fatalf("trend sums created=%d resolved=%d", createdSum, resolvedSum)
    }
}

func TestKPIBounds(t *testing.T) {
    agg := NewAggregator(testConfig())
    now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

    // Massive over-logging still caps utilization at 100.
    var worklogs []domain.Worklog
    for i := 0; i < 40; i++ {
        worklogs = append(worklogs, domain.Worklog{
            ID: key("w", i), AuthorID: "a1", AuthorName: "Dana",
            TicketKey: "CMDR-1", Seconds: 3600 * 20, Hours: 20,
        })
    }
    a := agg.Build(nil, worklogs, nil, now)
    if a.KPIs.TeamUtilization != 100 {
        t.Fatalf("utilization = %d, want capped 100", a.KPIs.TeamUtilization)
    }

    // Delivery risk stays in [1,10].
    var tickets []domain.Ticket
    for i := 0; i < 9; i++ {
        tickets = append(tickets, mkTicket(key("CMDR", i), "Blocked", true, true, true, 30))
    }
    a = agg.Build(tickets, nil, nil, now)
    if a.KPIs.DeliveryRisk < 1 || a.KPIs.DeliveryRisk > 10 {
        t.Fatalf("delivery risk out of range: %v", a.KPIs.DeliveryRisk)
    }
    if a.RiskScores.Overall < 1 || a.RiskScores.Overall > 10 {
        t.Fatalf("overall risk out of range: %d", a.RiskScores.Overall)
    }
    empty := agg.Build(nil, nil, nil, now)
    if empty.KPIs.DeliveryRisk != 1 {
        t.Fatalf("empty portfolio delivery risk = %v, want floor 1", empty.KPIs.DeliveryRisk)
    }
    if empty.KPIs.ClientSatisfaction != 2 {
        t.Fatalf("empty portfolio satisfaction = %v, want 2.0", empty.KPIs.ClientSatisfaction)
    }
}

func TestFailedDeploymentsCombinesSources(t *testing.T) {
    agg := NewAggregator(testConfig())
    now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
    tickets := []domain.Ticket{
        mkTicket("CMDR-1", "Level II Test Failed", false, false, true, 3),
    }
    deployments := []domain.DeploymentRecord{
        {
            PageID: "1", Title: "Deployment", HasFailures: true,
            Cases: []domain.DeploymentCase{
                {TicketKey: "CMDR-2", Status: "failed", Failed: true},
                {TicketKey: "CMDR-3", Status: "passed"},
            },
        },
    }
    a := agg.Build(tickets, nil, deployments, now)
    if a.KPIs.FailedDeployments != 2 {
        t.Fatalf("failed_deployments = %d, want 2 (1 ticket + 1 case)", a.KPIs.FailedDeployments)
    }
}

func TestUtilizationBandsAndPerformance(t *testing.T) {
    agg := NewAggregator(testConfig())
    worklogs := []domain.Worklog{
        {ID: "1", AuthorID: "a1", AuthorName: "Dana", TicketKey: "CMDR-1", Hours: 38, Seconds: 38 * 3600},
        {ID: "2", AuthorID: "a2", AuthorName: "Rami", TicketKey: "TALOS-1", Hours: 10, Seconds: 10 * 3600},
        {ID: "3", AuthorID: "a3", AuthorName: "Kim", TicketKey: "WOOD-1", Hours: 50, Seconds: 50 * 3600},
    }
    rep := agg.BuildUtilization(worklogs, 1)
    bands := map[string]string{}
    for _, c := range rep.Contributors { bands[c.Name] = c.Band }
    if bands["Dana"] != "optimal" || bands["Rami"] != "under" || bands["Kim"] != "over" {
        t.Fatalf("bands = %v", bands)
    }
    for _, c := range rep.Contributors {
        if c.PerformanceScore < 1 || c.PerformanceScore > 10 {
            t.Fatalf("performance score out of range for %s: %v", c.Name, c.PerformanceScore)
        }
    }
    if rep.Contributors[0].Name != "Kim" {
        t.Fatalf("contributors not sorted by hours: %+v", rep.Contributors)
    }
}
