// Package reddit fetches story candidates from a subreddit's public JSON
// hot listing. No authentication; the listing endpoint only needs a
// distinctive User-Agent.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/storyreel/storyreel/internal/ports"
	"github.com/storyreel/storyreel/internal/types"
)

// ErrNoStory means the listing held no unseen post with a non-empty body.
var ErrNoStory = errors.New("no unseen story in listing")

const userAgent = "storyreel/1.0 (story narration pipeline)"

type Source struct {
	client    *http.Client
	baseURL   string
	subreddit string
	limit     int
}

func New(subreddit string, opts ...Option) *Source {
	s := &Source{
		client:    &http.Client{Timeout: 30 * time.Second},
		baseURL:   "https://www.reddit.com",
		subreddit: subreddit,
		limit:     50,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type Option func(*Source)

func WithBaseURL(u string) Option {
	return func(s *Source) { s.baseURL = strings.TrimSuffix(u, "/") }
}

func WithClient(c *http.Client) Option {
	return func(s *Source) { s.client = c }
}

func WithListingLimit(n int) Option {
	return func(s *Source) { s.limit = n }
}

type listing struct {
	Data struct {
		Children []struct {
			Data struct {
				ID       string `json:"id"`
				Title    string `json:"title"`
				Selftext string `json:"selftext"`
				Stickied bool   `json:"stickied"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// Fetch returns the first hot post whose body is non-empty and whose id is
// not in seen. Stickied posts (subreddit announcements) are skipped.
func (s *Source) Fetch(ctx context.Context, seen ports.SeenIndex) (types.Story, error) {
	u := fmt.Sprintf("%s/r/%s/hot.json?limit=%d", s.baseURL, url.PathEscape(s.subreddit), s.limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return types.Story{}, fmt.Errorf("build listing request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return types.Story{}, fmt.Errorf("fetch listing: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return types.Story{}, fmt.Errorf("fetch listing: status %d", resp.StatusCode)
	}

	var l listing
	if err := json.NewDecoder(resp.Body).Decode(&l); err != nil {
		return types.Story{}, fmt.Errorf("decode listing: %w", err)
	}

	for _, c := range l.Data.Children {
		p := c.Data
		if p.Stickied || strings.TrimSpace(p.Selftext) == "" {
			continue
		}
		isSeen, err := seen.Seen(ctx, p.ID)
		if err != nil {
			return types.Story{}, fmt.Errorf("check seen index: %w", err)
		}
		if isSeen {
			continue
		}
		return types.Story{
			ID:       uuid.NewString(),
			SourceID: p.ID,
			Title:    strings.TrimSpace(p.Title),
			Text:     strings.TrimSpace(p.Selftext),
		}, nil
	}
	return types.Story{}, ErrNoStory
}
