/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package openai

import (
    "context"
    "encoding/json"
    "errors"
    "strings"

    oa "github.com/openai/openai-go/v2"
    "github.com/openai/openai-go/v2/option"
    "github.com/openai/openai-go/v2/shared"

    "github.com/joneal2022/agent-experimentation/internal/config"
    "github.com/rs/zerolog"
)

type Client struct {
    api     oa.Client
    model   shared.ChatModel
    enabled bool
    log     zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
    c := &Client{ model: shared.ChatModel(cfg.OpenAIModel), log: log }
    if strings.TrimSpace(cfg.OpenAIKey) != "" {
        c.api = oa.NewClient(option.WithAPIKey(cfg.OpenAIKey), option.WithRequestTimeout(cfg.OpenAITimeout))
        c.enabled = true
    }
    return c
}

func (c *Client) Enabled() bool { return c.enabled }

// Summarize produces a short executive narrative for a dashboard payload.
// The payload is pre-scrubbed of PII by the caller.
func (c *Client) Summarize(ctx context.Context, payload map[string]any) (string, error) {
    if !c.enabled { return "", errors.New("openai: missing key") }
    b, err := json.Marshal(payload)
    if err != nil { return "", err }
    resp, err := c.api.Chat.Completions.New(ctx, oa.ChatCompletionNewParams{
        Model: c.model,
        Messages: []oa.ChatCompletionMessageParamUnion{
            oa.SystemMessage("You are an executive delivery analyst. Given portfolio KPIs, per-project health, urgent items, and risk scores, write a concise summary (3-5 sentences) for a leadership audience. Lead with the most pressing risk, then overall health, then one recommended action. No markdown, no bullet lists."),
            oa.UserMessage(string(b)),
        },
        Temperature: oa.Float(0.2),
    })
    if err != nil { return "", err }
    if len(resp.Choices) == 0 { return "", errors.New("openai: no choices") }
    return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
