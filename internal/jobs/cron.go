/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package jobs

import (
    "context"
    "time"

    "github.com/robfig/cron/v3"
    "github.com/rs/zerolog"

    "github.com/joneal2022/agent-experimentation/internal/config"
    "github.com/joneal2022/agent-experimentation/internal/domain"
    "github.com/joneal2022/agent-experimentation/internal/repo"
)

type service interface {
    Refresh(ctx context.Context, trigger string) error
    RunAlertCheck(ctx context.Context) ([]domain.Alert, error)
}

// Advisory lock keys keep multi-replica deployments from running the
// same job twice.
const (
    refreshLockKey    int64 = 731001
    alertCheckLockKey int64 = 731002
)

type Cron struct {
    cfg  config.Config
    log  zerolog.Logger
    svc  service
    repo *repo.Repository
    c    *cron.Cron
}

func NewCron(cfg config.Config, log zerolog.Logger, svc service, r *repo.Repository) *Cron {
    loc, _ := time.LoadLocation(cfg.TZ)
    c := cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)))
    cr := &Cron{cfg: cfg, log: log, svc: svc, repo: r, c: c}
    _, _ = c.AddFunc(cfg.RefreshCron, cr.refresh)
    _, _ = c.AddFunc(cfg.AlertCron, cr.alertCheck)
    return cr
}

func (cr *Cron) Start() { cr.c.Start() }
func (cr *Cron) Stop()  { cr.c.Stop() }

func (cr *Cron) refresh() {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute); defer cancel()
    if !cr.tryLock(ctx, refreshLockKey) { return }
    defer cr.unlock(refreshLockKey)
    cr.log.Info().Msg("cron: snapshot refresh")
    if err := cr.svc.Refresh(ctx, "cron"); err != nil {
        cr.log.Error().Err(err).Msg("cron: refresh failed")
    }
}

func (cr *Cron) alertCheck() {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute); defer cancel()
    if !cr.tryLock(ctx, alertCheckLockKey) { return }
    defer cr.unlock(alertCheckLockKey)
    cr.log.Info().Msg("cron: alert check")
    if _, err := cr.svc.RunAlertCheck(ctx); err != nil {
        cr.log.Error().Err(err).Msg("cron: alert check failed")
    }
}

func (cr *Cron) tryLock(ctx context.Context, key int64) bool {
    if cr.repo == nil { return true }
    ok, err := cr.repo.TryAdvisoryLock(ctx, key)
    if err != nil { cr.log.Error().Err(err).Msg("cron: lock error"); return false }
    if !ok { cr.log.Info().Int64("key", key).Msg("cron: already running elsewhere"); return false }
    return true
}

func (cr *Cron) unlock(key int64) {
    if cr.repo == nil { return }
    _ = cr.repo.AdvisoryUnlock(context.Background(), key)
}
