/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
    "context"
    "net/http"
    "strconv"

    "github.com/gin-gonic/gin"
    "github.com/rs/zerolog"

    "github.com/joneal2022/agent-experimentation/internal/config"
    "github.com/joneal2022/agent-experimentation/internal/domain"
    "github.com/joneal2022/agent-experimentation/internal/services"
)

type service interface {
    Status() map[string]any
    Dashboard(ctx context.Context) (domain.Aggregate, error)
    Tickets(ctx context.Context, q services.TicketQuery) ([]domain.Ticket, services.Page, error)
    Worklogs(ctx context.Context, author, ticketKey string, limit, offset int) ([]domain.Worklog, services.Page, error)
    Utilization(ctx context.Context) (services.UtilizationReport, error)
    Deployments(ctx context.Context, failedOnly bool) ([]domain.DeploymentRecord, error)
    Alerts(f services.AlertFilter) []domain.Alert
    AcknowledgeAlert(ctx context.Context, id, by string) (domain.Alert, error)
    RefreshAsync(trigger string) bool
    RunAlertCheck(ctx context.Context) ([]domain.Alert, error)
    LastRefresh(ctx context.Context) (any, error)
}

type Handlers struct {
    cfg config.Config
    log zerolog.Logger
    svc service
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc any) *Handlers {
    return &Handlers{cfg: cfg, log: log, svc: svc.(service)}
}

func (h *Handlers) Healthz(c *gin.Context) {
    c.JSON(http.StatusOK, h.svc.Status())
}

func (h *Handlers) Dashboard(c *gin.Context) {
    agg, err := h.svc.Dashboard(c.Request.Context())
    if err != nil {
        c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
        return
    }
    c.JSON(http.StatusOK, agg)
}

// ticketQuery binds the shared listing parameters. Bad boolean values
// are a 400, not a silent default.
func ticketQuery(c *gin.Context) (services.TicketQuery, bool) {
    q := services.TicketQuery{
        Project:  c.Query("project"),
        Status:   c.Query("status"),
        Assignee: c.Query("assignee"),
        Priority: c.Query("priority"),
        Limit:    intQuery(c, "limit", 50),
        Offset:   intQuery(c, "offset", 0),
    }
    for name, dst := range map[string]**bool{
        "stalled_only":        &q.Stalled,
        "overdue_only":        &q.Overdue,
        "failed_testing_only": &q.FailedTesting,
    } {
        raw := c.Query(name)
        if raw == "" { continue }
        v, err := strconv.ParseBool(raw)
        if err != nil {
            c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + " value"})
            return q, false
        }
        *dst = &v
    }
    if raw := c.Query("exclude_done"); raw != "" {
        v, err := strconv.ParseBool(raw)
        if err != nil {
            c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exclude_done value"})
            return q, false
        }
        q.ExcludeDone = v
    }
    return q, true
}

func intQuery(c *gin.Context, name string, def int) int {
    raw := c.Query(name)
    if raw == "" { return def }
    v, err := strconv.Atoi(raw)
    if err != nil { return def }
    return v
}

// appliedFilters echoes back the filters that were actually in effect.
func appliedFilters(q services.TicketQuery) map[string]any {
    f := map[string]any{}
    if q.Project != "" { f["project"] = q.Project }
    if q.Status != "" { f["status"] = q.Status }
    if q.Assignee != "" { f["assignee"] = q.Assignee }
    if q.Priority != "" { f["priority"] = q.Priority }
    if q.Stalled != nil { f["stalled_only"] = *q.Stalled }
    if q.Overdue != nil { f["overdue_only"] = *q.Overdue }
    if q.FailedTesting != nil { f["failed_testing_only"] = *q.FailedTesting }
    if q.ExcludeDone { f["exclude_done"] = true }
    if q.Text != "" { f["q"] = q.Text }
    return f
}

func ticketSummary(tickets []domain.Ticket) map[string]any {
    var stalled, overdue, failed int
    for _, t := range tickets {
        if t.IsStalled { stalled++ }
        if t.IsOverdue { overdue++ }
        if t.LevelIIFailed { failed++ }
    }
    return map[string]any{"stalled": stalled, "overdue": overdue, "failed_testing": failed}
}

func (h *Handlers) writeTicketPage(c *gin.Context, q services.TicketQuery) {
    tickets, page, err := h.svc.Tickets(c.Request.Context(), q)
    if err != nil {
        c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
        return
    }
    c.JSON(http.StatusOK, gin.H{
        "tickets":         tickets,
        "pagination":      page,
        "filters_applied": appliedFilters(q),
        "summary":         ticketSummary(tickets),
    })
}

func (h *Handlers) Tickets(c *gin.Context) {
    q, ok := ticketQuery(c)
    if !ok { return }
    h.writeTicketPage(c, q)
}

func (h *Handlers) SearchTickets(c *gin.Context) {
    q, ok := ticketQuery(c)
    if !ok { return }
    q.Text = c.Query("q")
    if q.Text == "" {
        c.JSON(http.StatusBadRequest, gin.H{"error": "missing q parameter"})
        return
    }
    h.writeTicketPage(c, q)
}

func (h *Handlers) Worklogs(c *gin.Context) {
    author, ticket := c.Query("author"), c.Query("ticket")
    wl, page, err := h.svc.Worklogs(c.Request.Context(), author, ticket,
        intQuery(c, "limit", 50), intQuery(c, "offset", 0))
    if err != nil {
        c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
        return
    }
    var hours float64
    for _, w := range wl { hours += w.Hours }
    filters := map[string]any{}
    if author != "" { filters["author"] = author }
    if ticket != "" { filters["ticket"] = ticket }
    c.JSON(http.StatusOK, gin.H{
        "worklogs":        wl,
        "pagination":      page,
        "filters_applied": filters,
        "summary":         map[string]any{"total_hours": hours},
    })
}

func (h *Handlers) Utilization(c *gin.Context) {
    rep, err := h.svc.Utilization(c.Request.Context())
    if err != nil {
        c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
        return
    }
    c.JSON(http.StatusOK, rep)
}

func (h *Handlers) Deployments(c *gin.Context) {
    failedOnly := false
    if raw := c.Query("failed_only"); raw != "" {
        v, err := strconv.ParseBool(raw)
        if err != nil {
            c.JSON(http.StatusBadRequest, gin.H{"error": "invalid failed_only value"})
            return
        }
        failedOnly = v
    }
    deps, err := h.svc.Deployments(c.Request.Context(), failedOnly)
    if err != nil {
        c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
        return
    }
    var withFailures, failedCases, totalCases int
    for _, d := range deps {
        if d.HasFailures { withFailures++ }
        for _, cs := range d.Cases {
            totalCases++
            if cs.Failed { failedCases++ }
        }
    }
    c.JSON(http.StatusOK, gin.H{
        "deployments":     deps,
        "filters_applied": map[string]any{"failed_only": failedOnly},
        "summary": map[string]any{
            "total_records": len(deps),
            "with_failures": withFailures,
            "total_cases":   totalCases,
            "failed_cases":  failedCases,
        },
    })
}

func (h *Handlers) Alerts(c *gin.Context) {
    var f services.AlertFilter
    if raw := c.Query("status"); raw != "" {
        v, err := domain.ParseAlertStatus(raw)
        if err != nil {
            c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
            return
        }
        f.Status = v
    }
    if raw := c.Query("severity"); raw != "" {
        v, err := domain.ParseSeverity(raw)
        if err != nil {
            c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
            return
        }
        f.Severity = v
    }
    if raw := c.Query("type"); raw != "" {
        v, err := domain.ParseAlertType(raw)
        if err != nil {
            c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
            return
        }
        f.Type = v
    }
    alerts := h.svc.Alerts(f)
    bySeverity := map[string]int{}
    byStatus := map[string]int{}
    for _, a := range alerts {
        bySeverity[string(a.Severity)]++
        byStatus[string(a.Status)]++
    }
    c.JSON(http.StatusOK, gin.H{
        "alerts":      alerts,
        "total_count": len(alerts),
        "summary":     gin.H{"by_severity": bySeverity, "by_status": byStatus},
    })
}

func (h *Handlers) AcknowledgeAlert(c *gin.Context) {
    var body struct {
        AcknowledgedBy string `json:"acknowledged_by"`
    }
    _ = c.ShouldBindJSON(&body)
    a, err := h.svc.AcknowledgeAlert(c.Request.Context(), c.Param("id"), body.AcknowledgedBy)
    if err != nil {
        c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
        return
    }
    c.JSON(http.StatusOK, a)
}

func (h *Handlers) AdminRefresh(c *gin.Context) {
    if !h.svc.RefreshAsync("admin") {
        c.JSON(http.StatusConflict, gin.H{"error": "refresh already running"})
        return
    }
    c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h *Handlers) LastRefresh(c *gin.Context) {
    lr, err := h.svc.LastRefresh(c.Request.Context())
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    c.JSON(http.StatusOK, lr)
}

func (h *Handlers) AdminAlertCheck(c *gin.Context) {
    // Detached from the request context so a client disconnect does not
    // abort the evaluation.
    go func() {
        if _, err := h.svc.RunAlertCheck(context.Background()); err != nil {
            h.log.Error().Err(err).Msg("alert check failed")
        }
    }()
    c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}
