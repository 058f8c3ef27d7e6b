/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package confluence

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "regexp"
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
        baseURL: cfg.ConfluenceBaseURL,
        user:    cfg.ConfluenceUsername,
        token:   cfg.ConfluenceAPIToken,
        http:    &http.Client{ Timeout: cfg.HTTPTimeout },
        log:     log,
    }
}

func (c *Client) doJSON(ctx context.Context, path string, q url.Values) (map[string]any, error) {
    if c.baseURL == "" { return nil, errors.New("confluence: empty baseURL") }
    u := strings.TrimRight(c.baseURL, "/") + path
    if len(q) > 0 { u = u + "?" + q.Encode() }
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
        if err != nil { return nil, err }
        req.SetBasicAuth(c.user, c.token)
        resp, err := c.http.Do(req)
        if err != nil { lastErr = err } else {
            defer resp.Body.Close()
            if resp.StatusCode >= 300 {
                b, _ := io.ReadAll(resp.Body)
                if resp.StatusCode == 429 || resp.StatusCode >= 500 {
                    lastErr = fmt.Errorf("confluence api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
                } else {
                    return nil, fmt.Errorf("confluence api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
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

var (
    tagRe    = regexp.MustCompile(`<[^>]+>`)
    spacesRe = regexp.MustCompile(`[ \t]+`)
)

// stripStorageHTML turns Confluence storage-format markup into plain text,
// keeping line breaks so downstream line parsing still works.
func stripStorageHTML(s string) string {
    s = strings.ReplaceAll(s, "</p>", "\n")
    s = strings.ReplaceAll(s, "</li>", "\n")
    s = strings.ReplaceAll(s, "</tr>", "\n")
    s = strings.ReplaceAll(s, "<br/>", "\n")
    s = strings.ReplaceAll(s, "<br>", "\n")
    s = tagRe.ReplaceAllString(s, " ")
    lines := strings.Split(s, "\n")
    out := make([]string, 0, len(lines))
    for _, l := range lines {
        l = strings.TrimSpace(spacesRe.ReplaceAllString(l, " "))
        if l != "" { out = append(out, l) }
    }
    return strings.Join(out, "\n")
}

// FetchDeploymentPages searches for deployment pages updated in the last
// daysBack days and returns id/title/text triples as loose maps.
func (c *Client) FetchDeploymentPages(ctx context.Context, spaces []string, daysBack int) ([]map[string]any, error) {
    if daysBack <= 0 { daysBack = 30 }
    cql := fmt.Sprintf(`(title ~ "Deployment" OR title ~ "Deploy") AND lastmodified >= now("-%dd")`, daysBack)
    if len(spaces) > 0 {
        var quoted []string
        for _, sp := range spaces {
            sp = strings.TrimSpace(sp)
            if sp != "" { quoted = append(quoted, fmt.Sprintf("%q", sp)) }
        }
        if len(quoted) > 0 { cql += " AND space IN (" + strings.Join(quoted, ",") + ")" }
    }
    q := url.Values{}
    q.Set("cql", cql)
    q.Set("limit", "100")
    res, err := c.doJSON(ctx, "/rest/api/content/search", q)
    if err != nil { return nil, err }
    arr, _ := res["results"].([]any)
    var out []map[string]any
    for _, it := range arr {
        rm, _ := it.(map[string]any)
        if rm == nil { continue }
        id, _ := rm["id"].(string)
        if id == "" {
            if cm, _ := rm["content"].(map[string]any); cm != nil { id, _ = cm["id"].(string) }
        }
        if id == "" { continue }
        page, err := c.page(ctx, id)
        if err != nil {
            c.log.Warn().Err(err).Str("page_id", id).Msg("confluence page fetch failed")
            continue
        }
        out = append(out, page)
    }
    return out, nil
}

func (c *Client) page(ctx context.Context, id string) (map[string]any, error) {
    q := url.Values{}
    q.Set("expand", "body.storage,version")
    res, err := c.doJSON(ctx, "/rest/api/content/"+url.PathEscape(id), q)
    if err != nil { return nil, err }
    title, _ := res["title"].(string)
    text := ""
    if body, _ := res["body"].(map[string]any); body != nil {
        if st, _ := body["storage"].(map[string]any); st != nil {
            if v, _ := st["value"].(string); v != "" { text = stripStorageHTML(v) }
        }
    }
    updated := ""
    if ver, _ := res["version"].(map[string]any); ver != nil { updated, _ = ver["when"].(string) }
    return map[string]any{"id": id, "title": title, "text": text, "updated": updated}, nil
}
