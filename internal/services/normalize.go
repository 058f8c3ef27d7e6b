/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
    "math"
    "regexp"
    "sort"
    "strconv"
    "strings"
    "time"

    "github.com/joneal2022/agent-experimentation/internal/config"
    "github.com/joneal2022/agent-experimentation/internal/domain"
)

// Rules holds the classification knobs shared by normalization and
// aggregation. All thresholds come from config so ops can tune them
// without a deploy.
type Rules struct {
    StalledAfterDays      int
    TerminalStatuses      map[string]bool
    StatusFailurePhrases  []string
    SummaryFailurePhrases []string
    ProjectClients        map[string]string
}

func NewRules(cfg config.Config) Rules {
    term := map[string]bool{}
    for _, s := range cfg.TerminalStatuses {
        term[strings.ToLower(strings.TrimSpace(s))] = true
    }
    return Rules{
        StalledAfterDays:      cfg.StalledAfterDays,
        TerminalStatuses:      term,
        StatusFailurePhrases:  lowerAll(cfg.StatusFailurePhrases),
        SummaryFailurePhrases: lowerAll(cfg.SummaryFailurePhrases),
        ProjectClients:        cfg.ProjectClients,
    }
}

func lowerAll(in []string) []string {
    out := make([]string, 0, len(in))
    for _, s := range in { out = append(out, strings.ToLower(strings.TrimSpace(s))) }
    return out
}

func (r Rules) IsTerminal(status string) bool {
    return r.TerminalStatuses[strings.ToLower(strings.TrimSpace(status))]
}

// ClientFor maps a project key to its client display name.
func (r Rules) ClientFor(projectKey string) string {
    if c, ok := r.ProjectClients[strings.ToUpper(strings.TrimSpace(projectKey))]; ok { return c }
    return "Unknown Client"
}

// FailedTesting reports whether a ticket shows a QA failure signal.
// The status text is authoritative; the summary is only a fallback with
// a narrower phrase list to avoid matching tickets that are about fixing
// a failure rather than being one.
func (r Rules) FailedTesting(status, summary string) bool {
    st := strings.ToLower(status)
    for _, p := range r.StatusFailurePhrases {
        if strings.Contains(st, p) { return true }
    }
    sm := strings.ToLower(summary)
    for _, p := range r.SummaryFailurePhrases {
        if strings.Contains(sm, p) { return true }
    }
    return false
}

// ---- Raw payload helpers ----

var timeLayouts = []string{
    time.RFC3339Nano,
    time.RFC3339,
    "2006-01-02T15:04:05.000-0700",
    "2006-01-02T15:04:05-0700",
    "2006-01-02",
}

func parseTimeUTC(s string) *time.Time {
    s = strings.TrimSpace(s)
    if s == "" { return nil }
    for _, l := range timeLayouts {
        if t, err := time.Parse(l, s); err == nil {
            u := t.UTC()
            return &u
        }
    }
    return nil
}

func toMap(v any) map[string]any { m, _ := v.(map[string]any); return m }

func toArr(v any) []any { a, _ := v.([]any); return a }

func toStr(v any) string { s, _ := v.(string); return s }

func toF64(v any) (float64, bool) {
    switch n := v.(type) {
    case float64:
        return n, true
    case int:
        return float64(n), true
    }
    return 0, false
}

// nested walks a map path, returning "" when any hop is missing.
func nested(m map[string]any, path ...string) string {
    cur := m
    for i, p := range path {
        if cur == nil { return "" }
        if i == len(path)-1 { return toStr(cur[p]) }
        cur = toMap(cur[p])
    }
    return ""
}

// ---- Ticket normalization ----

// NormalizeTicket converts one raw issue payload into the canonical
// ticket shape and derives its classification flags as of now.
func (r Rules) NormalizeTicket(raw map[string]any, now time.Time) domain.Ticket {
    fields := toMap(raw["fields"])
    t := domain.Ticket{
        Key:      toStr(raw["key"]),
        Summary:  toStr(fields["summary"]),
        Type:     nested(fields, "issuetype", "name"),
        Status:   nested(fields, "status", "name"),
        Priority: nested(fields, "priority", "name"),
        Assignee: nested(fields, "assignee", "displayName"),
        Reporter: nested(fields, "reporter", "displayName"),
        Created:  parseTimeUTC(toStr(fields["created"])),
        Updated:  parseTimeUTC(toStr(fields["updated"])),
        Due:      parseTimeUTC(toStr(fields["duedate"])),
        Resolved: parseTimeUTC(toStr(fields["resolutiondate"])),
    }
    if d := toStr(fields["description"]); d != "" { t.Description = d }
    if t.Key != "" {
        if i := strings.IndexByte(t.Key, '-'); i > 0 { t.ProjectKey = t.Key[:i] }
    }
    if pk := nested(fields, "project", "key"); pk != "" { t.ProjectKey = pk }
    for _, cf := range []string{"customfield_10016", "customfield_10004"} {
        if sp, ok := toF64(fields[cf]); ok { v := sp; t.StoryPoints = &v; break }
    }

    if cm := toMap(fields["comment"]); cm != nil {
        for _, c := range toArr(cm["comments"]) {
            raw := toMap(c)
            if raw == nil { continue }
            t.Comments = append(t.Comments, domain.Comment{
                ID:      toStr(raw["id"]),
                Author:  nested(raw, "author", "displayName"),
                Body:    toStr(raw["body"]),
                Created: parseTimeUTC(toStr(raw["created"])),
                Updated: parseTimeUTC(toStr(raw["updated"])),
            })
        }
    }

    if cl := toMap(raw["changelog"]); cl != nil {
        for _, h := range toArr(cl["histories"]) {
            hm := toMap(h)
            if hm == nil { continue }
            at := parseTimeUTC(toStr(hm["created"]))
            by := nested(hm, "author", "displayName")
            for _, it := range toArr(hm["items"]) {
                im := toMap(it)
                if im == nil || !strings.EqualFold(toStr(im["field"]), "status") { continue }
                sc := domain.StatusChange{ From: toStr(im["fromString"]), To: toStr(im["toString"]), By: by }
                if at != nil { sc.At = *at }
                t.StatusHistory = append(t.StatusHistory, sc)
            }
        }
        sort.Slice(t.StatusHistory, func(i, j int) bool { return t.StatusHistory[i].At.Before(t.StatusHistory[j].At) })
    }

    t.DaysInCurrentStatus = r.daysInCurrentStatus(t, now)
    terminal := r.IsTerminal(t.Status)
    t.IsStalled = !terminal && t.DaysInCurrentStatus > r.StalledAfterDays
    t.IsOverdue = !terminal && t.Due != nil && t.Due.Before(now) && t.Resolved == nil
    t.LevelIIFailed = r.FailedTesting(t.Status, t.Summary)
    return t
}

// daysInCurrentStatus finds the most recent transition into the current
// status and counts days since. Tickets with no usable history fall back
// to the last update time, then to 1.
func (r Rules) daysInCurrentStatus(t domain.Ticket, now time.Time) int {
    var entered *time.Time
    for i := len(t.StatusHistory) - 1; i >= 0; i-- {
        h := t.StatusHistory[i]
        if strings.EqualFold(strings.TrimSpace(h.To), strings.TrimSpace(t.Status)) && !h.At.IsZero() {
            at := h.At
            entered = &at
            break
        }
    }
    if entered == nil { entered = t.Updated }
    if entered == nil { return 1 }
    days := int(now.Sub(*entered).Hours() / 24)
    if days < 0 { days = 0 }
    return days
}

// ---- Worklog normalization ----

func NormalizeWorklog(raw map[string]any) domain.Worklog {
    w := domain.Worklog{
        AuthorID:    nested(raw, "author", "accountId"),
        AuthorName:  nested(raw, "author", "displayName"),
        Description: toStr(raw["description"]),
        Date:        parseTimeUTC(toStr(raw["startDate"])),
    }
    switch id := raw["tempoWorklogId"].(type) {
    case string:
        w.ID = id
    case float64:
        w.ID = strconv.FormatInt(int64(id), 10)
    }
    if w.ID == "" { w.ID = toStr(raw["id"]) }
    if w.AuthorName == "" { w.AuthorName = nested(raw, "author", "name") }
    w.TicketKey = nested(raw, "issue", "key")
    if sec, ok := toF64(raw["timeSpentSeconds"]); ok {
        w.Seconds = int(sec)
        w.Hours = round2(sec / 3600.0)
    }
    return w
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }

// ---- Deployment page parsing ----

var ticketKeyRe = regexp.MustCompile(`\b[A-Z][A-Z0-9]+-\d+\b`)

// ParseDeploymentPage extracts per-ticket test outcomes from a deployment
// page body. Each line holding a ticket key becomes one case; the text
// after the key is treated as its outcome.
func (r Rules) ParseDeploymentPage(raw map[string]any) domain.DeploymentRecord {
    rec := domain.DeploymentRecord{
        PageID: toStr(raw["id"]),
        Title:  toStr(raw["title"]),
        Date:   parseTimeUTC(toStr(raw["updated"])),
    }
    text := toStr(raw["text"])
    for _, line := range strings.Split(text, "\n") {
        loc := ticketKeyRe.FindStringIndex(line)
        if loc == nil { continue }
        key := line[loc[0]:loc[1]]
        status := strings.TrimLeft(strings.TrimSpace(line[loc[1]:]), ":-| \t")
        failed := containsFailureWord(status) || (status == "" && containsFailureWord(line[:loc[0]]))
        rec.Cases = append(rec.Cases, domain.DeploymentCase{
            TicketKey: key,
            Status:    status,
            Failed:    failed,
        })
        if failed { rec.HasFailures = true }
    }
    return rec
}

func containsFailureWord(s string) bool {
    ls := strings.ToLower(s)
    return strings.Contains(ls, "failed") || strings.Contains(ls, "error")
}
