/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
    "context"
    "encoding/json"
    "errors"
    "strings"
    "time"

    "github.com/jackc/pgx/v5"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/rs/zerolog"

    "github.com/joneal2022/agent-experimentation/internal/config"
    "github.com/joneal2022/agent-experimentation/internal/domain"
)

type DB struct {
    Pool *pgxpool.Pool
    log  zerolog.Logger
}

func MustOpen(ctx context.Context, cfg config.Config, log zerolog.Logger) *DB {
    pool, err := pgxpool.New(ctx, cfg.DBDSN)
    if err != nil { log.Fatal().Err(err).Msg("db connect failed") }
    ctx2, cancel := context.WithTimeout(ctx, 10*time.Second); defer cancel()
    if err := pool.Ping(ctx2); err != nil { log.Fatal().Err(err).Msg("db ping failed") }
    return &DB{Pool: pool, log: log}
}

func (d *DB) Close() { d.Pool.Close() }

type Repository struct {
    db  *DB
    log zerolog.Logger
}

func NewRepository(d *DB, log zerolog.Logger) *Repository { return &Repository{db: d, log: log} }

func (r *Repository) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
    var ok bool
    err := r.db.Pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok)
    return ok, err
}

func (r *Repository) AdvisoryUnlock(ctx context.Context, key int64) error {
    var ok bool
    err := r.db.Pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&ok)
    if !ok && err == nil { return errors.New("advisory unlock returned false") }
    return err
}

// UpsertTickets writes the current ticket view in one batch keyed on the
// issue key. History and comments travel as jsonb columns since they are
// only ever read back whole.
func (r *Repository) UpsertTickets(ctx context.Context, tickets []domain.Ticket) error {
    if len(tickets) == 0 { return nil }
    batch := &pgx.Batch{}
    const q = `
        INSERT INTO tickets(key, project_key, summary, type, status, priority, assignee, reporter,
            created_at_jira, updated_at_jira, due_at, resolved_at, story_points,
            days_in_status, stalled, overdue, level_ii_failed, status_history, comments, synced_at)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,now())
        ON CONFLICT(key) DO UPDATE SET
            project_key=EXCLUDED.project_key,
            summary=EXCLUDED.summary,
            type=EXCLUDED.type,
            status=EXCLUDED.status,
            priority=EXCLUDED.priority,
            assignee=EXCLUDED.assignee,
            reporter=EXCLUDED.reporter,
            created_at_jira=EXCLUDED.created_at_jira,
            updated_at_jira=EXCLUDED.updated_at_jira,
            due_at=EXCLUDED.due_at,
            resolved_at=EXCLUDED.resolved_at,
            story_points=EXCLUDED.story_points,
            days_in_status=EXCLUDED.days_in_status,
            stalled=EXCLUDED.stalled,
            overdue=EXCLUDED.overdue,
            level_ii_failed=EXCLUDED.level_ii_failed,
            status_history=EXCLUDED.status_history,
            comments=EXCLUDED.comments,
            synced_at=now()`
    for _, t := range tickets {
        hist, _ := json.Marshal(t.StatusHistory)
        comments, _ := json.Marshal(t.Comments)
        batch.Queue(q, t.Key, t.ProjectKey, t.Summary, t.Type, t.Status, t.Priority, t.Assignee, t.Reporter,
            t.Created, t.Updated, t.Due, t.Resolved, t.StoryPoints,
            t.DaysInCurrentStatus, t.IsStalled, t.IsOverdue, t.LevelIIFailed, hist, comments)
    }
    br := r.db.Pool.SendBatch(ctx, batch)
    defer br.Close()
    for range tickets { if _, err := br.Exec(); err != nil { return err } }
    return nil
}

func (r *Repository) InsertWorklogs(ctx context.Context, wl []domain.Worklog) error {
    if len(wl) == 0 { return nil }
    batch := &pgx.Batch{}
    const q = `INSERT INTO worklogs(ext_id, ticket_key, author_id, author_name, seconds, logged_on, description)
        VALUES($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (ext_id) DO NOTHING`
    for _, x := range wl {
        var ext any
        if strings.TrimSpace(x.ID) == "" { ext = nil } else { ext = x.ID }
        batch.Queue(q, ext, x.TicketKey, x.AuthorID, x.AuthorName, x.Seconds, x.Date, x.Description)
    }
    br := r.db.Pool.SendBatch(ctx, batch)
    defer br.Close()
    for range wl { if _, err := br.Exec(); err != nil { return err } }
    return nil
}

// ---- Alerts ----

func (r *Repository) InsertAlert(ctx context.Context, a domain.Alert) error {
    const q = `
        INSERT INTO alerts(id, type, severity, status, title, description, recommendation,
            ticket_key, project_key, assignee, client, context,
            first_detected, last_updated, auto_resolve)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
        ON CONFLICT (id) DO NOTHING`
    ctxJSON, _ := json.Marshal(a.Context)
    _, err := r.db.Pool.Exec(ctx, q, a.ID, a.Type, a.Severity, a.Status, a.Title, a.Description, a.Recommendation,
        a.TicketKey, a.ProjectKey, a.Assignee, a.Client, ctxJSON,
        a.FirstDetected, a.LastUpdated, a.AutoResolve)
    return err
}

func (r *Repository) UpdateAlertStatus(ctx context.Context, a domain.Alert) error {
    const q = `UPDATE alerts SET status=$2, last_updated=$3,
        acknowledged_at=$4, acknowledged_by=$5, resolved_at=$6, resolved_by=$7
        WHERE id=$1`
    _, err := r.db.Pool.Exec(ctx, q, a.ID, a.Status, a.LastUpdated,
        a.AcknowledgedAt, a.AcknowledgedBy, a.ResolvedAt, a.ResolvedBy)
    return err
}

func (r *Repository) LoadActiveAlerts(ctx context.Context) ([]domain.Alert, error) {
    rows, err := r.db.Pool.Query(ctx, `
        SELECT id, type, severity, status, COALESCE(title,''), COALESCE(description,''), COALESCE(recommendation,''),
            COALESCE(ticket_key,''), COALESCE(project_key,''), COALESCE(assignee,''), COALESCE(client,''),
            COALESCE(context,'{}'), first_detected, last_updated,
            acknowledged_at, COALESCE(acknowledged_by,''), resolved_at, COALESCE(resolved_by,''), auto_resolve
        FROM alerts WHERE status IN ('active','acknowledged')
        ORDER BY first_detected`)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []domain.Alert
    for rows.Next() {
        var a domain.Alert
        var ctxJSON []byte
        if err := rows.Scan(&a.ID, &a.Type, &a.Severity, &a.Status, &a.Title, &a.Description, &a.Recommendation,
            &a.TicketKey, &a.ProjectKey, &a.Assignee, &a.Client,
            &ctxJSON, &a.FirstDetected, &a.LastUpdated,
            &a.AcknowledgedAt, &a.AcknowledgedBy, &a.ResolvedAt, &a.ResolvedBy, &a.AutoResolve); err != nil { return nil, err }
        if len(ctxJSON) > 0 { _ = json.Unmarshal(ctxJSON, &a.Context) }
        out = append(out, a)
    }
    return out, nil
}

func (r *Repository) InsertNotificationLog(ctx context.Context, n domain.NotificationLog) error {
    const q = `INSERT INTO notification_logs(id, alert_id, channel, recipient, subject, status, error, sent_at)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (id) DO NOTHING`
    _, err := r.db.Pool.Exec(ctx, q, n.ID, n.AlertID, n.Channel, n.Recipient, n.Subject, n.Status, n.Error, n.SentAt)
    return err
}

// ---- Refresh runs ----

func (r *Repository) StartRefreshRun(ctx context.Context, trigger string) (int64, error) {
    const q = `INSERT INTO refresh_runs(started_at, trigger, success) VALUES(now(), $1, false) RETURNING id`
    var id int64
    if err := r.db.Pool.QueryRow(ctx, q, trigger).Scan(&id); err != nil { return 0, err }
    return id, nil
}

func (r *Repository) FinishRefreshRun(ctx context.Context, id int64, tickets, worklogs, deployments int, success bool, errStr string) error {
    const q = `UPDATE refresh_runs SET finished_at=now(), tickets=$2, worklogs=$3, deployments=$4, success=$5, error=$6 WHERE id=$1`
    _, err := r.db.Pool.Exec(ctx, q, id, tickets, worklogs, deployments, success, errStr)
    return err
}

type LastRefresh struct {
    StartedAt   time.Time  `json:"started_at"`
    FinishedAt  *time.Time `json:"finished_at"`
    Trigger     string     `json:"trigger"`
    Tickets     int        `json:"tickets"`
    Worklogs    int        `json:"worklogs"`
    Deployments int        `json:"deployments"`
    Success     bool       `json:"success"`
    Error       string     `json:"error"`
}

func (r *Repository) GetLastRefresh(ctx context.Context) (*LastRefresh, error) {
    const q = `SELECT started_at, finished_at, COALESCE(trigger,''),
        coalesce(tickets,0), coalesce(worklogs,0), coalesce(deployments,0),
        coalesce(success,false), coalesce(error,'')
        FROM refresh_runs ORDER BY id DESC LIMIT 1`
    row := r.db.Pool.QueryRow(ctx, q)
    lr := &LastRefresh{}
    if err := row.Scan(&lr.StartedAt, &lr.FinishedAt, &lr.Trigger, &lr.Tickets, &lr.Worklogs, &lr.Deployments, &lr.Success, &lr.Error); err != nil {
        return nil, err
    }
    return lr, nil
}
