/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "sync"
    "time"

    "github.com/rs/zerolog"

    "github.com/joneal2022/agent-experimentation/internal/config"
    "github.com/joneal2022/agent-experimentation/internal/domain"
    "github.com/joneal2022/agent-experimentation/internal/repo"
)

type JiraSource interface {
    FetchTickets(ctx context.Context, projects []string, daysBack int) ([]map[string]any, error)
}

type TempoSource interface {
    FetchWorklogs(ctx context.Context, daysBack int) ([]map[string]any, error)
}

type ConfluenceSource interface {
    FetchDeploymentPages(ctx context.Context, spaces []string, daysBack int) ([]map[string]any, error)
}

type LLM interface {
    Enabled() bool
    Summarize(ctx context.Context, payload map[string]any) (string, error)
}

// Store is the persistence surface the service needs. A nil Store keeps
// everything in memory, which is how the tests run.
type Store interface {
    AlertSink
    UpsertTickets(ctx context.Context, tickets []domain.Ticket) error
    InsertWorklogs(ctx context.Context, wl []domain.Worklog) error
    LoadActiveAlerts(ctx context.Context) ([]domain.Alert, error)
    StartRefreshRun(ctx context.Context, trigger string) (int64, error)
    FinishRefreshRun(ctx context.Context, id int64, tickets, worklogs, deployments int, success bool, errStr string) error
    GetLastRefresh(ctx context.Context) (*repo.LastRefresh, error)
}

type Service struct {
    cfg   config.Config
    log   zerolog.Logger
    store Store

    jira       JiraSource
    tempo      TempoSource
    confluence ConfluenceSource
    llm        LLM

    rules     Rules
    agg       *Aggregator
    snapshots *SnapshotStore
    alerts    *AlertEngine
}

func New(cfg config.Config, log zerolog.Logger, store Store,
    jira JiraSource, tempo TempoSource, confluence ConfluenceSource, llm LLM,
    channels []Channel) *Service {
    var sink AlertSink
    if store != nil { sink = store }
    return &Service{
        cfg:        cfg,
        log:        log,
        store:      store,
        jira:       jira,
        tempo:      tempo,
        confluence: confluence,
        llm:        llm,
        rules:      NewRules(cfg),
        agg:        NewAggregator(cfg),
        snapshots:  NewSnapshotStore(cfg.SnapshotTTL, cfg.StalenessWindow, cfg.RefreshCooldown),
        alerts:     NewAlertEngine(cfg, sink, channels, log),
    }
}

// Warmup reloads open alerts from the store so dedup survives restarts.
func (s *Service) Warmup(ctx context.Context) {
    if s.store == nil { return }
    alerts, err := s.store.LoadActiveAlerts(ctx)
    if err != nil {
        s.log.Warn().Err(err).Msg("alert warm start failed")
        return
    }
    s.alerts.WarmStart(alerts)
    s.log.Info().Int("alerts", len(alerts)).Msg("alert state reloaded")
}

// Snapshot returns the current snapshot, blocking to build one only on
// cold start. A snapshot inside its staleness window is served as-is
// while a background refresh is kicked off.
func (s *Service) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
    now := time.Now().UTC()
    if cur := s.snapshots.Current(); cur != nil {
        if s.snapshots.NeedsRefresh(now) { s.RefreshAsync("staleness") }
        return cur, nil
    }
    if err := s.Refresh(ctx, "cold_start"); err != nil {
        // Another refresh (startup, cron) may already be building the
        // first snapshot; wait for it instead of failing the read.
        s.log.Warn().Err(err).Msg("cold start refresh not started, waiting")
        s.awaitRefresh(ctx)
    }
    cur := s.snapshots.Current()
    if cur == nil { return nil, errors.New("no snapshot available") }
    return cur, nil
}

// awaitRefresh blocks until a snapshot exists, no refresh is running, or
// the context expires.
func (s *Service) awaitRefresh(ctx context.Context) {
    tick := time.NewTicker(25 * time.Millisecond)
    defer tick.Stop()
    for s.snapshots.Current() == nil && s.snapshots.Refreshing() {
        select {
        case <-ctx.Done():
            return
        case <-tick.C:
        }
    }
}

// RefreshAsync triggers a background refresh, silently dropping the
// request when one is already running or the cooldown has not elapsed.
func (s *Service) RefreshAsync(trigger string) bool {
    if !s.snapshots.TryBegin(time.Now().UTC(), trigger == "admin") { return false }
    go func() {
        defer s.snapshots.End()
        ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
        defer cancel()
        if err := s.refreshLocked(ctx, trigger); err != nil {
            s.log.Error().Err(err).Str("trigger", trigger).Msg("background refresh failed")
        }
    }()
    return true
}

// Refresh runs a full fetch-normalize-aggregate-publish cycle in the
// caller's goroutine.
func (s *Service) Refresh(ctx context.Context, trigger string) error {
    if !s.snapshots.TryBegin(time.Now().UTC(), trigger == "admin" || trigger == "cold_start" || trigger == "cron") {
        return errors.New("refresh already running or in cooldown")
    }
    defer s.snapshots.End()
    return s.refreshLocked(ctx, trigger)
}

type sourceResult struct {
    tickets     []domain.Ticket
    worklogs    []domain.Worklog
    deployments []domain.DeploymentRecord
    jiraErr     error
    tempoErr    error
    confErr     error
}

func (s *Service) refreshLocked(ctx context.Context, trigger string) error {
    started := time.Now()
    var runID int64
    if s.store != nil {
        id, err := s.store.StartRefreshRun(ctx, trigger)
        if err != nil { s.log.Warn().Err(err).Msg("start refresh run failed") } else { runID = id }
    }

    res := s.fetchAll(ctx)
    prev := s.snapshots.Current()
    now := time.Now().UTC()

    allFailed := res.jiraErr != nil && res.tempoErr != nil && res.confErr != nil
    if allFailed {
        detail := fmt.Sprintf("jira: %v; tempo: %v; confluence: %v", res.jiraErr, res.tempoErr, res.confErr)
        if prev != nil {
            // Keep serving the last good snapshot and page someone.
            s.alerts.RaiseSystemFailure(ctx, detail)
            s.finishRun(ctx, runID, 0, 0, 0, false, detail)
            return fmt.Errorf("all sources failed: %s", detail)
        }
        // Cold start with nothing upstream: publish an empty snapshot so
        // the API degrades instead of 500ing forever.
        s.log.Error().Str("detail", detail).Msg("cold start with all sources down, serving fallback")
        snap := &domain.Snapshot{
            Aggregate: s.agg.Build(nil, nil, nil, now),
        }
        snap.Aggregate.Summary = "Data sources are currently unavailable; figures will appear after the next successful refresh."
        s.snapshots.Stamp(snap, now)
        s.snapshots.Publish(snap)
        s.finishRun(ctx, runID, 0, 0, 0, false, detail)
        return fmt.Errorf("all sources failed: %s", detail)
    }

    // Per-source fallback to the previous snapshot.
    if res.jiraErr != nil && prev != nil {
        s.log.Warn().Err(res.jiraErr).Msg("jira fetch failed, reusing previous tickets")
        res.tickets = prev.Tickets
    }
    if res.tempoErr != nil && prev != nil {
        s.log.Warn().Err(res.tempoErr).Msg("tempo fetch failed, reusing previous worklogs")
        res.worklogs = prev.Worklogs
    }
    if res.confErr != nil && prev != nil {
        s.log.Warn().Err(res.confErr).Msg("confluence fetch failed, reusing previous deployments")
        res.deployments = prev.Deployments
    }

    agg := s.agg.Build(res.tickets, res.worklogs, res.deployments, now)
    s.alerts.CheckConditions(ctx, agg)
    agg.Summary = s.summarize(ctx, agg)

    snap := &domain.Snapshot{
        Tickets:     res.tickets,
        Worklogs:    res.worklogs,
        Deployments: res.deployments,
        Aggregate:   agg,
    }
    s.snapshots.Stamp(snap, now)
    s.snapshots.Publish(snap)

    if s.store != nil {
        if err := s.store.UpsertTickets(ctx, res.tickets); err != nil {
            s.log.Warn().Err(err).Msg("ticket persist failed")
        }
        if err := s.store.InsertWorklogs(ctx, res.worklogs); err != nil {
            s.log.Warn().Err(err).Msg("worklog persist failed")
        }
    }
    s.finishRun(ctx, runID, len(res.tickets), len(res.worklogs), len(res.deployments), true, "")

    s.log.Info().
        Str("trigger", trigger).
        Int("tickets", len(res.tickets)).
        Int("worklogs", len(res.worklogs)).
        Int("deployments", len(res.deployments)).
        Dur("took", time.Since(started)).
        Msg("snapshot refreshed")
    return nil
}

func (s *Service) finishRun(ctx context.Context, runID int64, tickets, worklogs, deployments int, success bool, errStr string) {
    if s.store == nil || runID == 0 { return }
    if err := s.store.FinishRefreshRun(ctx, runID, tickets, worklogs, deployments, success, errStr); err != nil {
        s.log.Warn().Err(err).Msg("finish refresh run failed")
    }
}

// fetchAll pulls the three sources concurrently, each under its own
// timeout so one slow upstream cannot starve the rest.
func (s *Service) fetchAll(ctx context.Context) sourceResult {
    var res sourceResult
    now := time.Now().UTC()
    var wg sync.WaitGroup
    wg.Add(3)

    go func() {
        defer wg.Done()
        if s.jira == nil { res.jiraErr = errors.New("jira source not configured"); return }
        sctx, cancel := context.WithTimeout(ctx, s.cfg.SourceTimeout)
        defer cancel()
        raw, err := s.jira.FetchTickets(sctx, s.cfg.JiraProjects, s.cfg.JiraDaysBack)
        if err != nil { res.jiraErr = err; return }
        res.tickets = s.normalizeTickets(raw, now)
    }()

    go func() {
        defer wg.Done()
        if s.tempo == nil { res.tempoErr = errors.New("tempo source not configured"); return }
        sctx, cancel := context.WithTimeout(ctx, s.cfg.SourceTimeout)
        defer cancel()
        raw, err := s.tempo.FetchWorklogs(sctx, s.cfg.TempoDaysBack)
        if err != nil { res.tempoErr = err; return }
        for _, rw := range raw {
            w := NormalizeWorklog(rw)
            if w.Seconds > 0 || w.TicketKey != "" { res.worklogs = append(res.worklogs, w) }
        }
    }()

    go func() {
        defer wg.Done()
        if s.confluence == nil { res.confErr = errors.New("confluence source not configured"); return }
        sctx, cancel := context.WithTimeout(ctx, s.cfg.SourceTimeout)
        defer cancel()
        raw, err := s.confluence.FetchDeploymentPages(sctx, s.cfg.ConfluenceSpaces, s.cfg.JiraDaysBack)
        if err != nil { res.confErr = err; return }
        for _, rp := range raw {
            rec := s.rules.ParseDeploymentPage(rp)
            if rec.PageID != "" { res.deployments = append(res.deployments, rec) }
        }
    }()

    wg.Wait()
    return res
}

// normalizeTickets runs normalization through a small worker pool; index
// addressing keeps the output order equal to the input order.
func (s *Service) normalizeTickets(raw []map[string]any, now time.Time) []domain.Ticket {
    if len(raw) == 0 { return nil }
    out := make([]domain.Ticket, len(raw))
    jobs := make(chan int)
    var wg sync.WaitGroup
    workerCount := 6
    for w := 0; w < workerCount; w++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            for i := range jobs {
                out[i] = s.rules.NormalizeTicket(raw[i], now)
            }
        }()
    }
    for i := range raw { jobs <- i }
    close(jobs)
    wg.Wait()

    kept := out[:0]
    for _, t := range out {
        if t.Key != "" { kept = append(kept, t) }
    }
    return kept
}

// summarize asks the model for an executive narrative over a scrubbed
// aggregate. Missing key or model errors degrade to an empty summary.
func (s *Service) summarize(ctx context.Context, agg domain.Aggregate) string {
    if s.llm == nil || !s.llm.Enabled() { return "" }
    payload := scrubPayload(map[string]any{
        "kpis":           agg.KPIs,
        "project_health": agg.ProjectHealth,
        "urgent_items":   agg.UrgentItems,
        "risk_scores":    agg.RiskScores,
    })
    sctx, cancel := context.WithTimeout(ctx, s.cfg.OpenAITimeout)
    defer cancel()
    text, err := s.llm.Summarize(sctx, payload)
    if err != nil {
        s.log.Warn().Err(err).Msg("summary generation failed")
        return ""
    }
    return text
}

// ---- Read side ----

func (s *Service) Dashboard(ctx context.Context) (domain.Aggregate, error) {
    snap, err := s.Snapshot(ctx)
    if err != nil { return domain.Aggregate{}, err }
    return snap.Aggregate, nil
}

func (s *Service) Tickets(ctx context.Context, q TicketQuery) ([]domain.Ticket, Page, error) {
    snap, err := s.Snapshot(ctx)
    if err != nil { return nil, Page{}, err }
    tickets, page := s.rules.FilterTickets(snap.Tickets, q)
    return tickets, page, nil
}

func (s *Service) Worklogs(ctx context.Context, author, ticketKey string, limit, offset int) ([]domain.Worklog, Page, error) {
    snap, err := s.Snapshot(ctx)
    if err != nil { return nil, Page{}, err }
    wl, page := FilterWorklogs(snap.Worklogs, author, ticketKey, limit, offset)
    return wl, page, nil
}

func (s *Service) Utilization(ctx context.Context) (UtilizationReport, error) {
    snap, err := s.Snapshot(ctx)
    if err != nil { return UtilizationReport{}, err }
    weeks := float64(s.cfg.TempoDaysBack) / 7
    return s.agg.BuildUtilization(snap.Worklogs, weeks), nil
}

func (s *Service) Deployments(ctx context.Context, failedOnly bool) ([]domain.DeploymentRecord, error) {
    snap, err := s.Snapshot(ctx)
    if err != nil { return nil, err }
    return FilterDeployments(snap.Deployments, failedOnly), nil
}

func (s *Service) Alerts(f AlertFilter) []domain.Alert { return s.alerts.List(f) }

func (s *Service) AcknowledgeAlert(ctx context.Context, id, by string) (domain.Alert, error) {
    if strings.TrimSpace(by) == "" { by = "unknown" }
    return s.alerts.Acknowledge(ctx, id, by)
}

// RunAlertCheck re-evaluates alert conditions against the current
// snapshot without refetching sources.
func (s *Service) RunAlertCheck(ctx context.Context) ([]domain.Alert, error) {
    snap := s.snapshots.Current()
    if snap == nil {
        var err error
        snap, err = s.Snapshot(ctx)
        if err != nil { return nil, err }
    }
    return s.alerts.CheckConditions(ctx, snap.Aggregate), nil
}

// LastRefresh exposes the most recent refresh run bookkeeping.
func (s *Service) LastRefresh(ctx context.Context) (any, error) {
    if s.store == nil { return nil, errors.New("persistence not configured") }
    return s.store.GetLastRefresh(ctx)
}

// Status reports snapshot freshness for the health endpoint.
func (s *Service) Status() map[string]any {
    out := map[string]any{"status": "ok", "refreshing": s.snapshots.Refreshing()}
    if snap := s.snapshots.Current(); snap != nil {
        out["snapshot_generated_at"] = snap.GeneratedAt
        out["snapshot_expires_at"] = snap.ExpiresAt
        out["snapshot_expired"] = s.snapshots.Expired(time.Now().UTC())
    } else {
        out["status"] = "warming_up"
    }
    return out
}
