/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
    "context"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/joneal2022/agent-experimentation/internal/adapters/confluence"
    "github.com/joneal2022/agent-experimentation/internal/adapters/jira"
    "github.com/joneal2022/agent-experimentation/internal/adapters/notify"
    "github.com/joneal2022/agent-experimentation/internal/adapters/openai"
    "github.com/joneal2022/agent-experimentation/internal/adapters/tempo"
    "github.com/joneal2022/agent-experimentation/internal/config"
    httpapi "github.com/joneal2022/agent-experimentation/internal/http"
    "github.com/joneal2022/agent-experimentation/internal/jobs"
    "github.com/joneal2022/agent-experimentation/internal/logger"
    "github.com/joneal2022/agent-experimentation/internal/repo"
    "github.com/joneal2022/agent-experimentation/internal/services"
)

func main() {
    cfg := config.Load()
    log := logger.New(cfg)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    // DB
    db := repo.MustOpen(ctx, cfg, log)
    defer db.Close()
    repository := repo.NewRepository(db, log)

    // Adapters
    jc := jira.NewClient(cfg, log)
    tc := tempo.NewClient(cfg, log)
    cc := confluence.NewClient(cfg, log)
    llm := openai.NewClient(cfg, log)
    channels := []services.Channel{
        notify.NewEmail(cfg, log),
        notify.NewSlack(cfg, log),
    }

    // Service
    svc := services.New(cfg, log, repository, jc, tc, cc, llm, channels)
    svc.Warmup(ctx)

    // Build the first snapshot in the background so startup stays fast;
    // the first dashboard request blocks only if this has not finished.
    svc.RefreshAsync("startup")

    // HTTP server (Gin)
    router := httpapi.NewRouter(cfg, log, svc)

    // Cron
    cron := jobs.NewCron(cfg, log, svc, repository)
    cron.Start()
    defer cron.Stop()

    errCh := make(chan error, 1)
    go func() { errCh <- router.Run(cfg.HTTPAddr) }()

    sigCh := make(chan os.Signal, 1)
    signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

    select {
    case <-sigCh:
        log.Info().Msg("shutting down...")
    case err := <-errCh:
        if err != nil { log.Error().Err(err).Msg("http server error") }
    }

    time.Sleep(500 * time.Millisecond)
}
