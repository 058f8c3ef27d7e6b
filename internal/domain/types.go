package domain

import (
    "fmt"
    "strings"
    "time"
)

type Ticket struct {
    Key         string     `json:"key"`
    ProjectKey  string     `json:"project_key"`
    Summary     string     `json:"summary"`
    Description string     `json:"description,omitempty"`
    Type        string     `json:"issue_type"`
    Status      string     `json:"status"`
    Priority    string     `json:"priority"`
    Assignee    string     `json:"assignee,omitempty"`
    Reporter    string     `json:"reporter,omitempty"`
    Created     *time.Time `json:"created_date,omitempty"`
    Updated     *time.Time `json:"updated_date,omitempty"`
    Due         *time.Time `json:"due_date,omitempty"`
    Resolved    *time.Time `json:"resolution_date,omitempty"`
    StoryPoints *float64   `json:"story_points,omitempty"`

    Comments      []Comment      `json:"comments,omitempty"`
    StatusHistory []StatusChange `json:"status_history,omitempty"`
    Worklogs      []Worklog      `json:"worklogs,omitempty"`

    // Derived on every normalization pass.
    DaysInCurrentStatus int  `json:"days_in_current_status"`
    IsStalled           bool `json:"is_stalled"`
    IsOverdue           bool `json:"is_overdue"`
    LevelIIFailed       bool `json:"level_ii_failed"`
}

type Comment struct {
    ID      string     `json:"comment_id"`
    Author  string     `json:"author"`
    Body    string     `json:"body"`
    Created *time.Time `json:"created_date,omitempty"`
    Updated *time.Time `json:"updated_date,omitempty"`
}

type StatusChange struct {
    From string    `json:"from_status"`
    To   string    `json:"to_status"`
    By   string    `json:"changed_by"`
    At   time.Time `json:"changed_at"`
}

type Worklog struct {
    ID          string     `json:"worklog_id"`
    TicketKey   string     `json:"ticket_key"`
    AuthorID    string     `json:"author_account_id,omitempty"`
    AuthorName  string     `json:"author_display_name"`
    Seconds     int        `json:"time_spent_seconds"`
    Hours       float64    `json:"time_spent_hours"`
    Date        *time.Time `json:"start_date,omitempty"`
    Description string     `json:"description,omitempty"`
}

type DeploymentCase struct {
    TicketKey string `json:"ticket_key"`
    Status    string `json:"status"`
    Notes     string `json:"notes,omitempty"`
    Failed    bool   `json:"failed"`
}

type DeploymentRecord struct {
    PageID      string           `json:"page_id"`
    Title       string           `json:"title"`
    Date        *time.Time       `json:"deployment_date,omitempty"`
    Cases       []DeploymentCase `json:"cases"`
    HasFailures bool             `json:"has_failures"`
}

type ProjectHealth struct {
    ProjectKey   string `json:"project_key"`
    Client       string `json:"client"`
    HealthScore  int    `json:"health_score"`
    TotalTickets int    `json:"total_tickets"`
    Stalled      int    `json:"stalled_tickets"`
    Overdue      int    `json:"overdue_tickets"`
    FailedTests  int    `json:"failed_tests"`
    Risk         string `json:"risk_level"`
}

type KPIs struct {
    TotalTickets       int     `json:"total_tickets"`
    StalledTickets     int     `json:"stalled_tickets"`
    OverdueTickets     int     `json:"overdue_tickets"`
    CriticalAlerts     int     `json:"critical_alerts"`
    FailedDeployments  int     `json:"failed_deployments"`
    TeamUtilization    int     `json:"team_utilization"`
    ClientSatisfaction float64 `json:"client_satisfaction_score"`
    DeliveryRisk       float64 `json:"delivery_risk_score"`
}

type TrendPoint struct {
    Date            string `json:"date"`
    TicketsCreated  int    `json:"tickets_created"`
    TicketsResolved int    `json:"tickets_resolved"`
}

type TicketBrief struct {
    Key          string `json:"key"`
    Summary      string `json:"summary"`
    Status       string `json:"status"`
    Priority     string `json:"priority"`
    Assignee     string `json:"assignee,omitempty"`
    DaysInStatus int    `json:"days_in_current_status"`
}

type UrgentItems struct {
    Stalled       []TicketBrief `json:"stalled_tickets"`
    Overdue       []TicketBrief `json:"overdue_tickets"`
    FailedTesting []TicketBrief `json:"failed_testing"`
}

type ClientImpact struct {
    Client       string   `json:"client"`
    Projects     []string `json:"projects"`
    TotalTickets int      `json:"total_tickets"`
    Stalled      int      `json:"stalled_tickets"`
    Overdue      int      `json:"overdue_tickets"`
    FailedTests  int      `json:"failed_tests"`
}

type RiskScores struct {
    Overall      int    `json:"overall_risk_score"`
    DeliveryRisk string `json:"delivery_risk"`
    QualityRisk  string `json:"quality_risk"`
    ClientRisk   string `json:"client_risk"`
}

// Aggregate is the derived read-side view of one snapshot.
type Aggregate struct {
    KPIs          KPIs            `json:"kpis"`
    ProjectHealth []ProjectHealth `json:"project_health"`
    Trends        []TrendPoint    `json:"trends"`
    UrgentItems   UrgentItems     `json:"urgent_items"`
    ClientImpact  []ClientImpact  `json:"client_impact"`
    RiskScores    RiskScores      `json:"risk_scores"`
    Summary       string          `json:"summary,omitempty"`
    Timestamp     time.Time       `json:"timestamp"`
    DataSources   map[string]int  `json:"data_sources"`
}

// Snapshot is replaced wholesale on refresh, never mutated in place.
type Snapshot struct {
    Tickets     []Ticket
    Worklogs    []Worklog
    Deployments []DeploymentRecord
    Aggregate   Aggregate
    GeneratedAt time.Time
    ExpiresAt   time.Time
}

type AlertType string

const (
    AlertStalledTicket     AlertType = "stalled_ticket"
    AlertOverdueTicket     AlertType = "overdue_ticket"
    AlertLevelIIFailed     AlertType = "level_ii_failed"
    AlertDeploymentFailure AlertType = "deployment_failure"
    AlertTeamOverload      AlertType = "team_overload"
    AlertClientWaiting     AlertType = "client_waiting"
    AlertQualityIssue      AlertType = "quality_issue"
    AlertProcessBottleneck AlertType = "process_bottleneck"
    AlertSystemFailure     AlertType = "system_failure"
)

type Severity string

const (
    SeverityCritical Severity = "critical"
    SeverityHigh     Severity = "high"
    SeverityMedium   Severity = "medium"
    SeverityLow      Severity = "low"
    SeverityInfo     Severity = "info"
)

type AlertStatus string

const (
    AlertActive       AlertStatus = "active"
    AlertAcknowledged AlertStatus = "acknowledged"
    AlertResolved     AlertStatus = "resolved"
    AlertSuppressed   AlertStatus = "suppressed"
)

func ParseSeverity(s string) (Severity, error) {
    switch Severity(strings.ToLower(strings.TrimSpace(s))) {
    case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
        return Severity(strings.ToLower(strings.TrimSpace(s))), nil
    }
    return "", fmt.Errorf("unknown severity %q", s)
}

func ParseAlertStatus(s string) (AlertStatus, error) {
    switch AlertStatus(strings.ToLower(strings.TrimSpace(s))) {
    case AlertActive, AlertAcknowledged, AlertResolved, AlertSuppressed:
        return AlertStatus(strings.ToLower(strings.TrimSpace(s))), nil
    }
    return "", fmt.Errorf("unknown alert status %q", s)
}

func ParseAlertType(s string) (AlertType, error) {
    switch AlertType(strings.ToLower(strings.TrimSpace(s))) {
    case AlertStalledTicket, AlertOverdueTicket, AlertLevelIIFailed, AlertDeploymentFailure,
        AlertTeamOverload, AlertClientWaiting, AlertQualityIssue, AlertProcessBottleneck, AlertSystemFailure:
        return AlertType(strings.ToLower(strings.TrimSpace(s))), nil
    }
    return "", fmt.Errorf("unknown alert type %q", s)
}

type Alert struct {
    ID             string         `json:"id"`
    Type           AlertType      `json:"alert_type"`
    Severity       Severity       `json:"severity"`
    Status         AlertStatus    `json:"status"`
    Title          string         `json:"title"`
    Description    string         `json:"description"`
    Recommendation string         `json:"recommendation,omitempty"`
    TicketKey      string         `json:"jira_ticket_key,omitempty"`
    ProjectKey     string         `json:"project_key,omitempty"`
    Assignee       string         `json:"assignee,omitempty"`
    Client         string         `json:"client,omitempty"`
    Context        map[string]any `json:"context_data,omitempty"`
    FirstDetected  time.Time      `json:"first_detected"`
    LastUpdated    time.Time      `json:"last_updated"`
    AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
    AcknowledgedBy string         `json:"acknowledged_by,omitempty"`
    ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
    ResolvedBy     string         `json:"resolved_by,omitempty"`
    AutoResolve    bool           `json:"auto_resolve"`
}

type NotificationLog struct {
    ID        string     `json:"id"`
    AlertID   string     `json:"alert_id"`
    Channel   string     `json:"channel"`
    Recipient string     `json:"recipient"`
    Subject   string     `json:"subject,omitempty"`
    Status    string     `json:"status"`
    Error     string     `json:"error,omitempty"`
    SentAt    *time.Time `json:"sent_at,omitempty"`
}
