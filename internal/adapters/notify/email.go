/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package notify

import (
    "context"
    "fmt"
    "net/smtp"
    "strings"
    "time"

    "github.com/joneal2022/agent-experimentation/internal/config"
    "github.com/joneal2022/agent-experimentation/internal/domain"
    "github.com/rs/zerolog"
)

type Email struct {
    host       string
    port       int
    username   string
    password   string
    from       string
    recipients []string
    critical   []string
    send       func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
    log        zerolog.Logger
}

func NewEmail(cfg config.Config, log zerolog.Logger) *Email {
    return &Email{
        host:       cfg.SMTPHost,
        port:       cfg.SMTPPort,
        username:   cfg.SMTPUsername,
        password:   cfg.SMTPPassword,
        from:       cfg.EmailFrom,
        recipients: cfg.AlertRecipients,
        critical:   cfg.CriticalRecipients,
        send:       smtp.SendMail,
        log:        log,
    }
}

func (e *Email) Name() string { return "email" }

func (e *Email) Enabled() bool {
    return e.host != "" && e.from != "" && (len(e.recipients) > 0 || len(e.critical) > 0)
}

// Recipients returns the distribution list for an alert. Critical alerts go
// to the wider critical list in addition to the standard recipients.
func (e *Email) Recipients(a domain.Alert) []string {
    seen := map[string]bool{}
    var out []string
    add := func(list []string) {
        for _, r := range list {
            r = strings.TrimSpace(r)
            if r == "" || seen[r] { continue }
            seen[r] = true
            out = append(out, r)
        }
    }
    add(e.recipients)
    if a.Severity == domain.SeverityCritical { add(e.critical) }
    return out
}

func (e *Email) Send(ctx context.Context, a domain.Alert) error {
    to := e.Recipients(a)
    if !e.Enabled() || len(to) == 0 { return fmt.Errorf("email: not configured") }
    subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(a.Severity)), a.Title)
    var body strings.Builder
    fmt.Fprintf(&body, "%s\r\n\r\n", a.Description)
    if a.ProjectKey != "" { fmt.Fprintf(&body, "Project: %s\r\n", a.ProjectKey) }
    if a.Client != "" { fmt.Fprintf(&body, "Client: %s\r\n", a.Client) }
    if a.TicketKey != "" { fmt.Fprintf(&body, "Ticket: %s\r\n", a.TicketKey) }
    if a.Assignee != "" { fmt.Fprintf(&body, "Assignee: %s\r\n", a.Assignee) }
    if a.Recommendation != "" { fmt.Fprintf(&body, "\r\nRecommended action: %s\r\n", a.Recommendation) }
    fmt.Fprintf(&body, "\r\nDetected: %s\r\n", a.FirstDetected.UTC().Format(time.RFC3339))

    msg := []byte("From: " + e.from + "\r\n" +
        "To: " + strings.Join(to, ", ") + "\r\n" +
        "Subject: " + subject + "\r\n" +
        "MIME-Version: 1.0\r\n" +
        "Content-Type: text/plain; charset=UTF-8\r\n" +
        "\r\n" + body.String())

    var auth smtp.Auth
    if e.username != "" { auth = smtp.PlainAuth("", e.username, e.password, e.host) }
    addr := fmt.Sprintf("%s:%d", e.host, e.port)

    done := make(chan error, 1)
    go func() { done <- e.send(addr, auth, e.from, to, msg) }()
    select {
    case err := <-done:
        return err
    case <-ctx.Done():
        return ctx.Err()
    }
}
