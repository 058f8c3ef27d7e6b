/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package notify

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "time"

    "github.com/joneal2022/agent-experimentation/internal/config"
    "github.com/joneal2022/agent-experimentation/internal/domain"
    "github.com/rs/zerolog"
)

type Slack struct {
    webhookURL string
    http       *http.Client
    log        zerolog.Logger
}

func NewSlack(cfg config.Config, log zerolog.Logger) *Slack {
    return &Slack{ webhookURL: cfg.SlackWebhookURL, http: &http.Client{ Timeout: 10 * time.Second }, log: log }
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Enabled() bool { return s.webhookURL != "" }

var severityEmoji = map[domain.Severity]string{
    domain.SeverityCritical: ":red_circle:",
    domain.SeverityHigh:     ":large_orange_circle:",
    domain.SeverityMedium:   ":large_yellow_circle:",
    domain.SeverityLow:      ":large_blue_circle:",
    domain.SeverityInfo:     ":white_circle:",
}

// Send posts an alert to the incoming-webhook URL using block kit layout.
func (s *Slack) Send(ctx context.Context, a domain.Alert) error {
    if s.webhookURL == "" { return fmt.Errorf("slack: missing webhook url") }
    text := fmt.Sprintf("%s *[%s]* %s", severityEmoji[a.Severity], a.Severity, a.Title)
    fields := []map[string]any{}
    if a.ProjectKey != "" { fields = append(fields, map[string]any{"type": "mrkdwn", "text": "*Project:* " + a.ProjectKey}) }
    if a.Client != "" { fields = append(fields, map[string]any{"type": "mrkdwn", "text": "*Client:* " + a.Client}) }
    if a.TicketKey != "" { fields = append(fields, map[string]any{"type": "mrkdwn", "text": "*Ticket:* " + a.TicketKey}) }
    if a.Assignee != "" { fields = append(fields, map[string]any{"type": "mrkdwn", "text": "*Assignee:* " + a.Assignee}) }
    blocks := []map[string]any{
        {"type": "section", "text": map[string]any{"type": "mrkdwn", "text": text + "\n" + a.Description}},
    }
    if len(fields) > 0 { blocks = append(blocks, map[string]any{"type": "section", "fields": fields}) }
    if a.Recommendation != "" {
        blocks = append(blocks, map[string]any{"type": "context", "elements": []map[string]any{
            {"type": "mrkdwn", "text": "Recommended: " + a.Recommendation},
        }})
    }
    body := map[string]any{"text": text, "blocks": blocks}
    b, _ := json.Marshal(body)
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(b))
    if err != nil { return err }
    req.Header.Set("Content-Type", "application/json")
    resp, err := s.http.Do(req)
    if err != nil { return err }
    defer resp.Body.Close()
    if resp.StatusCode >= 300 {
        bodyBytes, _ := io.ReadAll(resp.Body)
        return fmt.Errorf("slack webhook status=%d body=%s", resp.StatusCode, string(bodyBytes))
    }
    return nil
}
