/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
    "math"
    "sort"
    "strings"

    "github.com/joneal2022/agent-experimentation/internal/domain"
)

type ContributorReport struct {
    Name               string   `json:"name"`
    HoursLogged        float64  `json:"hours_logged"`
    TicketsTouched     int      `json:"tickets_touched"`
    Projects           []string `json:"projects"`
    UtilizationPercent int      `json:"utilization_percent"`
    Band               string   `json:"band"`
    PerformanceScore   float64  `json:"performance_score"`
}

type UtilizationReport struct {
    Contributors []ContributorReport `json:"contributors"`
    TotalHours   float64             `json:"total_hours"`
    TeamPercent  int                 `json:"team_utilization_percent"`
}

// BuildUtilization folds worklogs into per-contributor reports plus the
// team-level rollup. Weekly figures assume the standard 40 hour week.
func (a *Aggregator) BuildUtilization(worklogs []domain.Worklog, weeks float64) UtilizationReport {
    if weeks <= 0 { weeks = 1 }
    type acc struct {
        name     string
        hours    float64
        tickets  map[string]bool
        projects map[string]bool
    }
    byAuthor := map[string]*acc{}
    var total float64
    for _, w := range worklogs {
        key := w.AuthorID
        if key == "" { key = w.AuthorName }
        if key == "" { continue }
        c := byAuthor[key]
        if c == nil {
            c = &acc{name: w.AuthorName, tickets: map[string]bool{}, projects: map[string]bool{}}
            byAuthor[key] = c
        }
        if c.name == "" { c.name = w.AuthorName }
        c.hours += w.Hours
        total += w.Hours
        if w.TicketKey != "" {
            c.tickets[w.TicketKey] = true
            if i := strings.IndexByte(w.TicketKey, '-'); i > 0 { c.projects[w.TicketKey[:i]] = true }
        }
    }

    expectedPerWeek := a.expectedMonthlyHours / 4
    out := make([]ContributorReport, 0, len(byAuthor))
    for _, c := range byAuthor {
        weeklyHours := c.hours / weeks
        pct := 0
        if expectedPerWeek > 0 { pct = int(math.Round(weeklyHours / expectedPerWeek * 100)) }
        projects := make([]string, 0, len(c.projects))
        for p := range c.projects { projects = append(projects, p) }
        sort.Strings(projects)
        out = append(out, ContributorReport{
            Name:               c.name,
            HoursLogged:        round1(c.hours),
            TicketsTouched:     len(c.tickets),
            Projects:           projects,
            UtilizationPercent: pct,
            Band:               utilizationBand(pct),
            PerformanceScore:   performanceScore(weeklyHours, float64(len(c.tickets))/weeks, len(c.projects)),
        })
    }
    sort.Slice(out, func(i, j int) bool {
        if out[i].HoursLogged != out[j].HoursLogged { return out[i].HoursLogged > out[j].HoursLogged }
        return out[i].Name < out[j].Name
    })

    teamPct := 0
    if n := len(byAuthor); n > 0 && expectedPerWeek > 0 {
        teamPct = int(math.Round(total / weeks / (float64(n) * expectedPerWeek) * 100))
        if teamPct > 100 { teamPct = 100 }
    }
    return UtilizationReport{Contributors: out, TotalHours: round1(total), TeamPercent: teamPct}
}

func utilizationBand(pct int) string {
    switch {
    case pct > 110:
        return "over"
    case pct >= 80:
        return "optimal"
    default:
        return "under"
    }
}

// performanceScore blends weekly hours, throughput, and breadth into a
// single 1..10 figure.
func performanceScore(weeklyHours, weeklyTickets float64, projects int) float64 {
    hoursTerm := math.Min(10, weeklyHours/40*10)
    ticketsTerm := math.Min(10, weeklyTickets/10*10)
    breadthTerm := math.Min(10, float64(projects)*2)
    score := 0.4*hoursTerm + 0.4*ticketsTerm + 0.2*breadthTerm
    if score < 1 { score = 1 }
    if score > 10 { score = 10 }
    return round1(score)
}
