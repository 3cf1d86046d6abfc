// Package pexels searches and downloads stock footage from the Pexels
// video API.
package pexels

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/storyreel/storyreel/internal/types"
)

type Library struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func New(apiKey string, opts ...Option) *Library {
	l := &Library{
		client:  &http.Client{Timeout: 5 * time.Minute},
		baseURL: "https://api.pexels.com",
		apiKey:  apiKey,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

type Option func(*Library)

func WithBaseURL(u string) Option {
	return func(l *Library) { l.baseURL = strings.TrimSuffix(u, "/") }
}

func WithClient(c *http.Client) Option {
	return func(l *Library) { l.client = c }
}

type searchResponse struct {
	Videos []struct {
		Duration   float64 `json:"duration"`
		VideoFiles []struct {
			Link   string `json:"link"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
		} `json:"video_files"`
	} `json:"videos"`
}

// Search returns up to limit portrait-oriented candidates for query, each
// reduced to its widest available rendition.
func (l *Library) Search(ctx context.Context, query string, limit int) ([]types.FootageCandidate, error) {
	if limit <= 0 {
		limit = 10
	}
	q := url.Values{}
	q.Set("query", query)
	q.Set("orientation", "portrait")
	q.Set("per_page", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		l.baseURL+"/videos/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build footage search: %w", err)
	}
	req.Header.Set("Authorization", l.apiKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("footage search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("footage search: status %d", resp.StatusCode)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode footage search: %w", err)
	}

	var cands []types.FootageCandidate
	for _, v := range out.Videos {
		best := types.FootageCandidate{Duration: v.Duration}
		for _, f := range v.VideoFiles {
			if f.Width > best.Width {
				best = types.FootageCandidate{
					URL:      f.Link,
					Width:    f.Width,
					Height:   f.Height,
					Duration: v.Duration,
				}
			}
		}
		if best.URL != "" {
			cands = append(cands, best)
		}
	}
	return cands, nil
}

// Download streams the candidate into a uniquely named file under destDir.
func (l *Library) Download(ctx context.Context, c types.FootageCandidate, destDir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build footage download: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("footage download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("footage download: status %d", resp.StatusCode)
	}

	f, err := os.CreateTemp(destDir, "footage-*.mp4")
	if err != nil {
		return "", fmt.Errorf("footage temp file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("footage download: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("footage download: %w", err)
	}
	return f.Name(), nil
}
