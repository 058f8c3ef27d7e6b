/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package tempo

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "strings"
    "time"

    "github.com/joneal2022/agent-experimentation/internal/config"
    "github.com/rs/zerolog"
)

type Client struct {
    baseURL string
    token   string
    http    *http.Client
    log     zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
    return &Client{
        baseURL: cfg.TempoBaseURL,
        token:   cfg.TempoAPIToken,
        http:    &http.Client{ Timeout: cfg.HTTPTimeout },
        log:     log,
    }
}

func (c *Client) doJSON(ctx context.Context, path string, q url.Values) (map[string]any, error) {
    if c.baseURL == "" { return nil, errors.New("tempo: empty baseURL") }
    u := strings.TrimRight(c.baseURL, "/") + path
    if len(q) > 0 { u = u + "?" + q.Encode() }
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
        if err != nil { return nil, err }
        req.Header.Set("Authorization", "Bearer "+c.token)
        req.Header.Set("Content-Type", "application/json")
        resp, err := c.http.Do(req)
        if err != nil { lastErr = err } else {
            defer resp.Body.Close()
            if resp.StatusCode >= 300 {
                b, _ := io.ReadAll(resp.Body)
                if resp.StatusCode == 429 || resp.StatusCode >= 500 {
                    lastErr = fmt.Errorf("tempo api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
                } else {
                    return nil, fmt.Errorf("tempo api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
                }
            } else {
                var out map[string]any
                if err := json.NewDecoder(resp.Body).Decode(&out); err != nil { return nil, err }
                return out, nil
            }
        }
        time.Sleep(time.Duration(300*(1<<attempt)) * time.Millisecond)
    }
    return nil, lastErr
}

// FetchWorklogs pages through worklogs for the last daysBack days.
func (c *Client) FetchWorklogs(ctx context.Context, daysBack int) ([]map[string]any, error) {
    if daysBack <= 0 { daysBack = 30 }
    end := time.Now().UTC()
    start := end.AddDate(0, 0, -daysBack)
    var out []map[string]any
    offset := 0
    const limit = 1000
    for {
        q := url.Values{}
        q.Set("from", start.Format("2006-01-02"))
        q.Set("to", end.Format("2006-01-02"))
        q.Set("offset", fmt.Sprint(offset))
        q.Set("limit", fmt.Sprint(limit))
        page, err := c.doJSON(ctx, "/worklogs", q)
        if err != nil { return out, err }
        arr, _ := page["results"].([]any)
        if len(arr) == 0 { break }
        for _, it := range arr {
            if wm, _ := it.(map[string]any); wm != nil { out = append(out, wm) }
        }
        if len(arr) < limit { break }
        offset += limit
    }
    return out, nil
}
