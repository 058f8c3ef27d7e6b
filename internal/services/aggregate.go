/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
    "math"
    "sort"
    "strings"
    "time"

    "github.com/joneal2022/agent-experimentation/internal/config"
    "github.com/joneal2022/agent-experimentation/internal/domain"
)

// Aggregator derives the whole dashboard view from normalized inputs.
// Build is a pure function of its arguments so the same snapshot always
// yields the same dashboard.
type Aggregator struct {
    rules Rules

    expectedMonthlyHours float64
    stalledWeight        float64
    overdueWeight        float64
    failedWeight         float64
    trendDays            int
    urgentLimit          int
}

func NewAggregator(cfg config.Config) *Aggregator {
    return &Aggregator{
        rules:                NewRules(cfg),
        expectedMonthlyHours: cfg.ExpectedMonthlyHours,
        stalledWeight:        cfg.HealthStalledWeight,
        overdueWeight:        cfg.HealthOverdueWeight,
        failedWeight:         cfg.HealthFailedWeight,
        trendDays:            cfg.TrendDays,
        urgentLimit:          10,
    }
}

var riskOrder = map[string]int{"high": 0, "medium": 1, "low": 2}

func (a *Aggregator) Build(tickets []domain.Ticket, worklogs []domain.Worklog, deployments []domain.DeploymentRecord, now time.Time) domain.Aggregate {
    agg := domain.Aggregate{
        Timestamp: now.UTC(),
        DataSources: map[string]int{
            "jira":       len(tickets),
            "tempo":      len(worklogs),
            "confluence": len(deployments),
        },
    }

    type counts struct{ total, stalled, overdue, failed int }
    byProject := map[string]*counts{}
    criticalTickets := 0
    for _, t := range tickets {
        if !a.rules.IsTerminal(t.Status) && a.isCritical(t) { criticalTickets++ }
        if t.ProjectKey == "" { continue }
        c := byProject[t.ProjectKey]
        if c == nil { c = &counts{}; byProject[t.ProjectKey] = c }
        c.total++
        if a.rules.IsTerminal(t.Status) { continue }
        if t.IsStalled { c.stalled++ }
        if t.IsOverdue { c.overdue++ }
        if t.LevelIIFailed { c.failed++ }
    }

    failedCases := 0
    totalCases := 0
    for _, d := range deployments {
        for _, cse := range d.Cases {
            totalCases++
            if cse.Failed { failedCases++ }
        }
    }

    var healths []domain.ProjectHealth
    var healthSum float64
    var totStalled, totOverdue, totFailed int
    for key, c := range byProject {
        score := a.healthScore(c.stalled, c.overdue, c.failed)
        healths = append(healths, domain.ProjectHealth{
            ProjectKey:   key,
            Client:       a.rules.ClientFor(key),
            HealthScore:  score,
            TotalTickets: c.total,
            Stalled:      c.stalled,
            Overdue:      c.overdue,
            FailedTests:  c.failed,
            Risk:         riskLevel(score),
        })
        healthSum += float64(score)
        totStalled += c.stalled
        totOverdue += c.overdue
        totFailed += c.failed
    }
    sort.Slice(healths, func(i, j int) bool {
        hi, hj := healths[i], healths[j]
        if riskOrder[hi.Risk] != riskOrder[hj.Risk] { return riskOrder[hi.Risk] < riskOrder[hj.Risk] }
        if hi.Stalled != hj.Stalled { return hi.Stalled > hj.Stalled }
        if hi.Overdue != hj.Overdue { return hi.Overdue > hj.Overdue }
        return hi.ProjectKey < hj.ProjectKey
    })
    agg.ProjectHealth = healths

    avgHealth := 0.0
    if len(healths) > 0 { avgHealth = healthSum / float64(len(healths)) }

    agg.KPIs = domain.KPIs{
        TotalTickets:       len(tickets),
        StalledTickets:     totStalled,
        OverdueTickets:     totOverdue,
        CriticalAlerts:     criticalTickets,
        FailedDeployments:  totFailed + failedCases,
        TeamUtilization:    a.teamUtilization(worklogs),
        ClientSatisfaction: round1(avgHealth*0.8 + 2),
        DeliveryRisk:       math.Min(10, math.Max(1, float64(totStalled+totOverdue+totFailed)*0.5+1)),
    }

    agg.Trends = a.trends(tickets, now)
    agg.UrgentItems = a.urgentItems(tickets)
    agg.ClientImpact = a.clientImpact(healths)
    clientsAffected := 0
    for _, ci := range agg.ClientImpact {
        if ci.Stalled+ci.Overdue+ci.FailedTests > 0 { clientsAffected++ }
    }
    agg.RiskScores = a.riskScores(totStalled, totOverdue, totFailed, failedCases, totalCases, clientsAffected)
    return agg
}

// isCritical marks a ticket as requiring immediate attention: top
// priority or any problem flag. Callers exclude terminal statuses.
func (a *Aggregator) isCritical(t domain.Ticket) bool {
    return strings.EqualFold(t.Priority, "Highest") || t.IsStalled || t.IsOverdue || t.LevelIIFailed
}

// healthScore starts every project at 10 and subtracts capped penalties
// per problem class.
func (a *Aggregator) healthScore(stalled, overdue, failed int) int {
    score := 10.0
    score -= math.Min(3, float64(stalled)*a.stalledWeight)
    score -= math.Min(3, float64(overdue)*a.overdueWeight)
    score -= math.Min(2, float64(failed)*a.failedWeight)
    s := int(math.Round(score))
    if s < 1 { s = 1 }
    if s > 10 { s = 10 }
    return s
}

func riskLevel(health int) string {
    switch {
    case health >= 8:
        return "low"
    case health >= 6:
        return "medium"
    default:
        return "high"
    }
}

func (a *Aggregator) teamUtilization(worklogs []domain.Worklog) int {
    if len(worklogs) == 0 { return 0 }
    var hours float64
    contributors := map[string]bool{}
    for _, w := range worklogs {
        hours += w.Hours
        name := w.AuthorID
        if name == "" { name = w.AuthorName }
        if name != "" { contributors[name] = true }
    }
    if len(contributors) == 0 { return 0 }
    capacity := float64(len(contributors)) * a.expectedMonthlyHours
    if capacity <= 0 { return 0 }
    util := int(math.Round(hours / capacity * 100))
    if util > 100 { util = 100 }
    return util
}

// trends emits one point per day for the window, zero-filled so charts
// never have gaps.
func (a *Aggregator) trends(tickets []domain.Ticket, now time.Time) []domain.TrendPoint {
    days := a.trendDays
    if days <= 0 { days = 30 }
    created := map[string]int{}
    resolved := map[string]int{}
    for _, t := range tickets {
        if t.Created != nil { created[t.Created.UTC().Format("2006-01-02")]++ }
        if t.Resolved != nil { resolved[t.Resolved.UTC().Format("2006-01-02")]++ }
    }
    out := make([]domain.TrendPoint, 0, days)
    start := now.UTC().AddDate(0, 0, -(days - 1))
    for i := 0; i < days; i++ {
        d := start.AddDate(0, 0, i).Format("2006-01-02")
        out = append(out, domain.TrendPoint{
            Date:            d,
            TicketsCreated:  created[d],
            TicketsResolved: resolved[d],
        })
    }
    return out
}

func (a *Aggregator) urgentItems(tickets []domain.Ticket) domain.UrgentItems {
    var stalled, overdue, failed []domain.Ticket
    for _, t := range tickets {
        if a.rules.IsTerminal(t.Status) { continue }
        if t.IsStalled { stalled = append(stalled, t) }
        if t.IsOverdue { overdue = append(overdue, t) }
        if t.LevelIIFailed { failed = append(failed, t) }
    }
    byAge := func(list []domain.Ticket) {
        sort.Slice(list, func(i, j int) bool {
            if list[i].DaysInCurrentStatus != list[j].DaysInCurrentStatus {
                return list[i].DaysInCurrentStatus > list[j].DaysInCurrentStatus
            }
            return list[i].Key < list[j].Key
        })
    }
    byAge(stalled); byAge(overdue); byAge(failed)
    return domain.UrgentItems{
        Stalled:       briefs(stalled, a.urgentLimit),
        Overdue:       briefs(overdue, a.urgentLimit),
        FailedTesting: briefs(failed, a.urgentLimit),
    }
}

func briefs(tickets []domain.Ticket, limit int) []domain.TicketBrief {
    if len(tickets) > limit { tickets = tickets[:limit] }
    out := make([]domain.TicketBrief, 0, len(tickets))
    for _, t := range tickets {
        out = append(out, domain.TicketBrief{
            Key:          t.Key,
            Summary:      t.Summary,
            Status:       t.Status,
            Priority:     t.Priority,
            Assignee:     t.Assignee,
            DaysInStatus: t.DaysInCurrentStatus,
        })
    }
    return out
}

func (a *Aggregator) clientImpact(healths []domain.ProjectHealth) []domain.ClientImpact {
    byClient := map[string]*domain.ClientImpact{}
    for _, h := range healths {
        ci := byClient[h.Client]
        if ci == nil {
            ci = &domain.ClientImpact{Client: h.Client}
            byClient[h.Client] = ci
        }
        ci.Projects = append(ci.Projects, h.ProjectKey)
        ci.TotalTickets += h.TotalTickets
        ci.Stalled += h.Stalled
        ci.Overdue += h.Overdue
        ci.FailedTests += h.FailedTests
    }
    out := make([]domain.ClientImpact, 0, len(byClient))
    for _, ci := range byClient {
        sort.Strings(ci.Projects)
        out = append(out, *ci)
    }
    sort.Slice(out, func(i, j int) bool {
        pi := out[i].Stalled + out[i].Overdue + out[i].FailedTests
        pj := out[j].Stalled + out[j].Overdue + out[j].FailedTests
        if pi != pj { return pi > pj }
        return out[i].Client < out[j].Client
    })
    return out
}

func (a *Aggregator) riskScores(stalled, overdue, failedTests, failedCases, totalCases, clientsAffected int) domain.RiskScores {
    failureRate := 0.0
    if totalCases > 0 { failureRate = float64(failedCases) / float64(totalCases) * 100 }

    overall := math.Min(float64(stalled)/2, 4) + math.Min(float64(overdue)/2, 3) + math.Min(float64(failedTests)/2, 3)
    if failureRate > 20 { overall += 3 } else { overall += 1 }
    score := int(math.Round(math.Min(10, overall)))
    if score < 1 { score = 1 }

    total := stalled + overdue + failedTests
    delivery := "low"
    if total > 15 { delivery = "high" } else if total > 8 { delivery = "medium" }

    quality := "low"
    switch {
    case failureRate > 25 || failedTests > 5:
        quality = "high"
    case failureRate > 15 || failedTests > 2:
        quality = "medium"
    }

    client := "low"
    switch {
    case clientsAffected > 3 || failedCases > 3:
        client = "high"
    case clientsAffected > 1 || failedCases > 1:
        client = "medium"
    }

    return domain.RiskScores{
        Overall:      score,
        DeliveryRisk: delivery,
        QualityRisk:  quality,
        ClientRisk:   client,
    }
}

func round1(f float64) float64 { return math.Round(f*10) / 10 }
