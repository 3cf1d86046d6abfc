// Package llmchat rewrites story text through OpenAI-compatible chat
// completion APIs. Several providers stack into an ordered chain; the
// first success wins and total chain failure is a signal for the caller
// to keep the original text.
package llmchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const systemPrompt = "You rewrite horror stories for short-form vertical video narration. " +
	"Keep the plot and tone, tighten the pacing, remove links and formatting. " +
	"Reply with the rewritten title on the first line and the rewritten story after a blank line. " +
	"No markdown, no commentary."

type Provider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// NewProvider builds a provider for one chat completion endpoint.
// baseURL is the API root, e.g. https://api.deepseek.com or
// https://openrouter.ai/api/v1.
func NewProvider(baseURL, apiKey, model string) *Provider {
	return &Provider{
		client:  &http.Client{Timeout: 2 * time.Minute},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Provider) Rewrite(ctx context.Context, title, text string) (string, string, error) {
	body, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Title: " + title + "\n\n" + text},
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("chat request: %w", redactSecret(err, p.apiKey))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", "", fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("chat status %d: %s", resp.StatusCode, truncate(string(raw), 300))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", "", fmt.Errorf("decode chat response: %w", err)
	}
	if out.Error != nil {
		return "", "", fmt.Errorf("chat error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", "", fmt.Errorf("chat response has no choices")
	}

	newTitle, newText := parseRewrite(out.Choices[0].Message.Content)
	if newText == "" {
		return "", "", fmt.Errorf("chat response has no story body")
	}
	return newTitle, newText, nil
}

// parseRewrite splits a completion into title (first non-empty line) and
// body (the rest), stripping stray markdown emphasis and heading markers.
func parseRewrite(content string) (string, string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ""
	}
	title, body, found := strings.Cut(content, "\n")
	if !found {
		return stripMarkers(title), ""
	}
	return stripMarkers(title), strings.TrimSpace(stripMarkers(body))
}

func stripMarkers(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "##", "")
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "#"))
	return s
}

// Chain tries providers in order and returns the first success.
type Chain struct {
	providers []*Provider
	logf      func(string, ...any)
}

func NewChain(logf func(string, ...any), providers ...*Provider) *Chain {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Chain{providers: providers, logf: logf}
}

func (c *Chain) Rewrite(ctx context.Context, title, text string) (string, string, error) {
	if len(c.providers) == 0 {
		return "", "", fmt.Errorf("no rewrite providers configured")
	}
	var lastErr error
	for i, p := range c.providers {
		newTitle, newText, err := p.Rewrite(ctx, title, text)
		if err == nil {
			return newTitle, newText, nil
		}
		c.logf("rewrite provider %d/%d failed: %v", i+1, len(c.providers), err)
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", "", fmt.Errorf("all rewrite providers failed: %w", lastErr)
}

// redactSecret keeps API keys out of logged transport errors; net/http
// errors embed the request URL and some proxies reflect headers.
func redactSecret(err error, secret string) error {
	if secret == "" || err == nil {
		return err
	}
	msg := strings.ReplaceAll(err.Error(), secret, "[redacted]")
	return fmt.Errorf("%s", msg)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
