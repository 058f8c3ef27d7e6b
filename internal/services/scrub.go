/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
    "fmt"
    "regexp"

    "github.com/joneal2022/agent-experimentation/internal/domain"
)

var (
    emailRe    = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+`)
    phoneRe    = regexp.MustCompile(`\b\+?\d[\d\-\s]{7,}\b`)
    urlRe      = regexp.MustCompile(`https?://[^\s]+`)
    tokenRe    = regexp.MustCompile(`(?i)\b(?:token|secret|password|apikey|api_key|bearer)[:=\s]+[A-Za-z0-9\-\._~+/]{8,}\b`)
    jiraUserRe = regexp.MustCompile(`\bJIRAUSER\d+\b`)
)

// scrubText removes obvious PII and secrets before text leaves the
// process toward the model API.
func scrubText(s string) string {
    s = emailRe.ReplaceAllString(s, "<email>")
    s = phoneRe.ReplaceAllString(s, "<phone>")
    s = urlRe.ReplaceAllString(s, "<url>")
    s = tokenRe.ReplaceAllString(s, "<secret>")
    s = jiraUserRe.ReplaceAllString(s, "<user>")
    return s
}

// scrubPayload walks the summarization payload and scrubs every free
// text field, replacing assignee names with stable per-payload aliases.
func scrubPayload(payload map[string]any) map[string]any {
    alias := map[string]string{}
    next := 1
    mask := func(name string) string {
        if name == "" { return "" }
        if v, ok := alias[name]; ok { return v }
        v := fmt.Sprintf("user%02d", next)
        alias[name] = v
        next++
        return v
    }

    if ui, ok := payload["urgent_items"].(domain.UrgentItems); ok {
        scrubBriefs := func(list []domain.TicketBrief) []domain.TicketBrief {
            out := make([]domain.TicketBrief, len(list))
            for i, b := range list {
                b.Summary = scrubText(b.Summary)
                b.Assignee = mask(b.Assignee)
                out[i] = b
            }
            return out
        }
        ui.Stalled = scrubBriefs(ui.Stalled)
        ui.Overdue = scrubBriefs(ui.Overdue)
        ui.FailedTesting = scrubBriefs(ui.FailedTesting)
        payload["urgent_items"] = ui
    }
    return payload
}
