/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
    "sort"
    "strings"

    "github.com/joneal2022/agent-experimentation/internal/domain"
)

// TicketQuery captures every filter the ticket listing endpoints accept.
// String filters are case-insensitive; bool pointers distinguish "not
// asked" from "must be false".
type TicketQuery struct {
    Project       string
    Status        string
    Assignee      string
    Priority      string
    ExcludeDone   bool
    Stalled       *bool
    Overdue       *bool
    FailedTesting *bool
    Text          string

    Limit  int
    Offset int
}

type Page struct {
    TotalCount int  `json:"total_count"`
    Limit      int  `json:"limit"`
    Offset     int  `json:"offset"`
    HasMore    bool `json:"has_more"`
}

const defaultPageLimit = 50

// FilterTickets applies the filter chain in a fixed order, then pages.
// Ordering is by days in current status descending with the key as the
// tiebreak so pages are stable across calls on the same snapshot.
func (r Rules) FilterTickets(tickets []domain.Ticket, q TicketQuery) ([]domain.Ticket, Page) {
    out := make([]domain.Ticket, 0, len(tickets))
    for _, t := range tickets {
        if q.Project != "" && !strings.EqualFold(t.ProjectKey, q.Project) { continue }
        if q.ExcludeDone && r.IsTerminal(t.Status) { continue }
        if q.Status != "" && !strings.EqualFold(t.Status, q.Status) { continue }
        if q.Assignee != "" && !strings.Contains(strings.ToLower(t.Assignee), strings.ToLower(q.Assignee)) { continue }
        if q.Priority != "" && !strings.EqualFold(t.Priority, q.Priority) { continue }
        if q.Stalled != nil && t.IsStalled != *q.Stalled { continue }
        if q.Overdue != nil && t.IsOverdue != *q.Overdue { continue }
        if q.FailedTesting != nil && t.LevelIIFailed != *q.FailedTesting { continue }
        if q.Text != "" && !matchesText(t, q.Text) { continue }
        out = append(out, t)
    }
    sort.Slice(out, func(i, j int) bool {
        if out[i].DaysInCurrentStatus != out[j].DaysInCurrentStatus {
            return out[i].DaysInCurrentStatus > out[j].DaysInCurrentStatus
        }
        return out[i].Key < out[j].Key
    })

    limit := q.Limit
    if limit <= 0 { limit = defaultPageLimit }
    offset := q.Offset
    if offset < 0 { offset = 0 }
    total := len(out)
    page := Page{TotalCount: total, Limit: limit, Offset: offset, HasMore: offset+limit < total}
    if offset >= total { return []domain.Ticket{}, page }
    end := offset + limit
    if end > total { end = total }
    return out[offset:end], page
}

func matchesText(t domain.Ticket, text string) bool {
    needle := strings.ToLower(strings.TrimSpace(text))
    if needle == "" { return true }
    return strings.Contains(strings.ToLower(t.Key), needle) ||
        strings.Contains(strings.ToLower(t.Summary), needle) ||
        strings.Contains(strings.ToLower(t.Description), needle)
}

// FilterWorklogs narrows worklogs by author substring and ticket key,
// newest first.
func FilterWorklogs(worklogs []domain.Worklog, author, ticketKey string, limit, offset int) ([]domain.Worklog, Page) {
    out := make([]domain.Worklog, 0, len(worklogs))
    for _, w := range worklogs {
        if author != "" && !strings.Contains(strings.ToLower(w.AuthorName), strings.ToLower(author)) { continue }
        if ticketKey != "" && !strings.EqualFold(w.TicketKey, ticketKey) { continue }
        out = append(out, w)
    }
    sort.Slice(out, func(i, j int) bool {
        di, dj := out[i].Date, out[j].Date
        switch {
        case di == nil && dj == nil:
            return out[i].ID < out[j].ID
        case di == nil:
            return false
        case dj == nil:
            return true
        case !di.Equal(*dj):
            return di.After(*dj)
        }
        return out[i].ID < out[j].ID
    })

    if limit <= 0 { limit = defaultPageLimit }
    if offset < 0 { offset = 0 }
    total := len(out)
    page := Page{TotalCount: total, Limit: limit, Offset: offset, HasMore: offset+limit < total}
    if offset >= total { return []domain.Worklog{}, page }
    end := offset + limit
    if end > total { end = total }
    return out[offset:end], page
}

// FilterDeployments optionally narrows to pages with failures.
func FilterDeployments(deployments []domain.DeploymentRecord, failedOnly bool) []domain.DeploymentRecord {
    if !failedOnly { return deployments }
    out := make([]domain.DeploymentRecord, 0, len(deployments))
    for _, d := range deployments {
        if d.HasFailures { out = append(out, d) }
    }
    return out
}
