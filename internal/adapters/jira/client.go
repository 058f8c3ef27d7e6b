/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package jira

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
    user    string
    token   string
    http    *http.Client
    log     zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
    return &Client{
        baseURL: cfg.JiraBaseURL,
        user:    cfg.JiraUsername,
        token:   cfg.JiraAPIToken,
        http:    &http.Client{ Timeout: cfg.HTTPTimeout },
        log:     log,
    }
}

func (c *Client) apiURL(path string, q url.Values) string {
    base := strings.TrimRight(c.baseURL, "/")
    if !strings.HasPrefix(path, "/") { path = "/" + path }
    u := base + path
    if len(q) > 0 { u = u + "?" + q.Encode() }
    return u
}

func (c *Client) doJSON(ctx context.Context, method, u string, body any) (map[string]any, error) {
    if c.baseURL == "" { return nil, errors.New("jira: empty baseURL") }
    var r io.Reader
    if body != nil {
        b, err := json.Marshal(body)
        if err != nil { return nil, err }
        r = strings.NewReader(string(b))
    }
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        req, err := http.NewRequestWithContext(ctx, method, u, r)
        if err != nil { return nil, err }
        if body != nil { req.Header.Set("Content-Type", "application/json") }
        if c.user != "" && c.token != "" {
            req.SetBasicAuth(c.user, c.token)
        } else if c.token != "" {
            req.Header.Set("Authorization", "Bearer "+c.token)
        }
        resp, err := c.http.Do(req)
        if err != nil { lastErr = err } else {
            defer resp.Body.Close()
            if resp.StatusCode >= 300 {
                b, _ := io.ReadAll(resp.Body)
                // retry on 429/5xx
                if resp.StatusCode == 429 || resp.StatusCode >= 500 {
                    lastErr = fmt.Errorf("jira api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
                } else {
                    return nil, fmt.Errorf("jira api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
                }
            } else {
                var out map[string]any
                if err := json.NewDecoder(resp.Body).Decode(&out); err != nil { return nil, err }
                return out, nil
            }
        }
        // backoff
        time.Sleep(time.Duration(300*(1<<attempt)) * time.Millisecond)
    }
    return nil, lastErr
}

// Search runs a JQL query with changelog/comment/worklog expansion.
func (c *Client) Search(ctx context.Context, jql string, startAt, max int) (map[string]any, error) {
    if jql == "" { return nil, errors.New("jira: empty jql") }
    q := url.Values{}
    q.Set("jql", jql)
    if startAt > 0 { q.Set("startAt", fmt.Sprint(startAt)) }
    if max > 0 { q.Set("maxResults", fmt.Sprint(max)) }
    q.Set("fields", "*all")
    q.Set("expand", "changelog")
    u := c.apiURL("/rest/api/2/search", q)
    return c.doJSON(ctx, http.MethodGet, u, nil)
}

// FetchTickets pulls every issue updated in the last daysBack days for the
// given projects, paging through search results. Raw issue payloads are
// returned as-is; normalization happens downstream.
func (c *Client) FetchTickets(ctx context.Context, projects []string, daysBack int) ([]map[string]any, error) {
    if daysBack <= 0 { daysBack = 30 }
    var scoped []string
    for _, p := range projects {
        p = strings.TrimSpace(p)
        if p != "" { scoped = append(scoped, fmt.Sprintf("%q", p)) }
    }
    jql := fmt.Sprintf("updated >= -%dd ORDER BY updated DESC", daysBack)
    if len(scoped) > 0 {
        jql = fmt.Sprintf("project IN (%s) AND updated >= -%dd ORDER BY updated DESC", strings.Join(scoped, ","), daysBack)
    }
    var out []map[string]any
    startAt := 0
    for {
        page, err := c.Search(ctx, jql, startAt, 100)
        if err != nil { return out, err }
        arr, _ := page["issues"].([]any)
        if len(arr) == 0 { break }
        for _, it := range arr {
            if im, _ := it.(map[string]any); im != nil { out = append(out, im) }
        }
        if len(arr) < 100 { break }
        startAt += 100
    }
    return out, nil
}
