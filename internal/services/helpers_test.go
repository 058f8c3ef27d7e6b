/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
    "strings"
    "time"

    "github.com/joneal2022/agent-experimentation/internal/config"
    "github.com/joneal2022/agent-experimentation/internal/domain"
)

func testConfig() config.Config {
    return config.Config{
        StalledAfterDays: 5,
        TerminalStatuses: []string{"done", "closed", "resolved", "completed"},
        StatusFailurePhrases: []string{
            "level ii test failed", "test failed", "testing failed", "qa failed",
            "failed testing", "failed qa", "test failure", "testing failure", "qa failure",
        },
        SummaryFailurePhrases: []string{
            "test failed", "testing failed", "qa failed", "test failure", "testing failure",
        },
        ProjectClients: map[string]string{"CMDR": "Commander", "TALOS": "Talos Energy", "WOOD": "Wood Group"},

        SnapshotTTL:     2 * time.Hour,
        StalenessWindow: 30 * time.Minute,
        RefreshCooldown: 10 * time.Minute,
        SourceTimeout:   5 * time.Second,
        TrendDays:       30,

        ExpectedMonthlyHours: 160,
        HealthStalledWeight:  0.5,
        HealthOverdueWeight:  0.7,
        HealthFailedWeight:   1.0,

        StalledAlertThreshold: 10,
        OverdueAlertThreshold: 5,
        FailureAlertThreshold: 3,
        StalledResolveBelow:   5,

        OpenAITimeout: 5 * time.Second,
        JiraDaysBack:  30,
        TempoDaysBack: 30,
    }
}

// rawIssue builds a minimal raw issue payload the way the issue tracker
// API returns it.
func rawIssue(key, status string, changedDaysAgo int, now time.Time) map[string]any {
    fields := map[string]any{
        "summary": "Sample work item",
        "status":  map[string]any{"name": status},
        "issuetype": map[string]any{"name": "Task"},
        "priority":  map[string]any{"name": "Medium"},
        "created":   now.AddDate(0, 0, -60).Format(time.RFC3339),
        "updated":   now.AddDate(0, 0, -changedDaysAgo).Format(time.RFC3339),
    }
    changelog := map[string]any{
        "histories": []any{
            map[string]any{
                "created": now.AddDate(0, 0, -changedDaysAgo).Format(time.RFC3339),
                "author":  map[string]any{"displayName": "Dana"},
                "items": []any{
                    map[string]any{"field": "status", "fromString": "To Do", "toString": status},
                },
            },
        },
    }
    return map[string]any{"key": key, "fields": fields, "changelog": changelog}
}

func mkTicket(key, status string, stalled, overdue, failed bool, days int) domain.Ticket {
    t := domain.Ticket{
        Key:                 key,
        Status:              status,
        Summary:             "work item " + key,
        Priority:            "Medium",
        DaysInCurrentStatus: days,
        IsStalled:           stalled,
        IsOverdue:           overdue,
        LevelIIFailed:       failed,
    }
    if i := strings.IndexByte(key, '-'); i > 0 { t.ProjectKey = key[:i] }
    return t
}
