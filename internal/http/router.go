/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
    "github.com/gin-gonic/gin"
    "github.com/rs/zerolog"

    "github.com/joneal2022/agent-experimentation/internal/config"
)

func NewRouter(cfg config.Config, log zerolog.Logger, svc any) *gin.Engine {
    if cfg.AppEnv != "dev" { gin.SetMode(gin.ReleaseMode) }
    r := gin.New()
    r.Use(gin.Recovery())
    r.Use(func(c *gin.Context){
        c.Next()
        log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
    })

    h := NewHandlers(cfg, log, svc)

    r.GET("/healthz", h.Healthz)

    api := r.Group("/api")
    {
        api.GET("/dashboard", h.Dashboard)
        api.GET("/jira/tickets", h.Tickets)
        api.GET("/jira/tickets/search", h.SearchTickets)
        api.GET("/tempo/worklogs", h.Worklogs)
        api.GET("/tempo/utilization", h.Utilization)
        api.GET("/confluence/deployments", h.Deployments)
        api.GET("/alerts", h.Alerts)
        api.POST("/alerts/:id/acknowledge", h.AcknowledgeAlert)
        api.POST("/admin/refresh", h.AdminRefresh)
        api.POST("/admin/alert-check", h.AdminAlertCheck)
        api.GET("/admin/last-refresh", h.LastRefresh)
    }

    return r
}
