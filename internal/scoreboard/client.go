package scoreboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"scorebot/pkg/logx"
)

type ClientConfig struct {
	BaseURL string
	APIKey  string
	// RequestsPerMinute bounds upstream calls via a token bucket.
	RequestsPerMinute int
	RequestTimeout    time.Duration
}

// Client is the HTTP client for the scoreboard API.
//
// The API is a read-only JSON GET surface; auth is an Authorization header.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	log        logx.Logger
}

func NewClient(cfg ClientConfig, log logx.Logger) *Client {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rps := float64(rpm) / 60.0
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		log:        log,
	}
}

// wire shapes for the upstream scoreboard payload.
type scoreboardResponse struct {
	Games []gameJSON `json:"games"`
}

type gameJSON struct {
	ID        string   `json:"id"`
	Status    string   `json:"status"`
	StartTime string   `json:"start_time"`
	Home      sideJSON `json:"home"`
	Away      sideJSON `json:"away"`
}

type sideJSON struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

func (c *Client) Scoreboard(ctx context.Context) ([]Snapshot, error) {
	resp, err := c.get(ctx, "/scoreboard", nil)
	if err != nil {
		return nil, err
	}
	return snapshotsFromGames(resp.Games), nil
}

func (c *Client) Team(ctx context.Context, name string) (Snapshot, error) {
	key := NormalizeTeam(name)
	params := url.Values{}
	params.Set("team", key)
	resp, err := c.get(ctx, "/scoreboard", params)
	if err != nil {
		return Snapshot{}, err
	}
	for _, s := range snapshotsFromGames(resp.Games) {
		if NormalizeTeam(s.Team) == key {
			return s, nil
		}
	}
	return Snapshot{}, fmt.Errorf("%w: %s", ErrTeamNotFound, key)
}

// get performs a rate-limited GET request against the upstream API.
// Every failure mode below maps onto ErrUpstreamUnavailable.
func (c *Client) get(ctx context.Context, path string, params url.Values) (*scoreboardResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", ErrUpstreamUnavailable, err)
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrUpstreamUnavailable, err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrUpstreamUnavailable, path, resp.StatusCode, truncate(body, 200))
	}

	var result scoreboardResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpstreamUnavailable, err)
	}
	return &result, nil
}

// snapshotsFromGames flattens games into one snapshot per team side.
func snapshotsFromGames(games []gameJSON) []Snapshot {
	out := make([]Snapshot, 0, len(games)*2)
	for _, g := range games {
		status := parseStatus(g.Status)
		start, _ := time.Parse(time.RFC3339, g.StartTime)
		out = append(out,
			Snapshot{
				GameID:        g.ID,
				Team:          g.Home.Name,
				Opponent:      g.Away.Name,
				TeamScore:     g.Home.Score,
				OpponentScore: g.Away.Score,
				Home:          true,
				Status:        status,
				StartTime:     start,
			},
			Snapshot{
				GameID:        g.ID,
				Team:          g.Away.Name,
				Opponent:      g.Home.Name,
				TeamScore:     g.Away.Score,
				OpponentScore: g.Home.Score,
				Home:          false,
				Status:        status,
				StartTime:     start,
			},
		)
	}
	return out
}

func parseStatus(s string) GameStatus {
	switch NormalizeTeam(s) {
	case "scheduled", "upcoming", "pre":
		return StatusScheduled
	case "in_progress", "in progress", "live":
		return StatusInProgress
	case "final", "finished", "post":
		return StatusFinal
	default:
		return StatusScheduled
	}
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
