package scoreboard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"scorebot/pkg/logx"
)

const scoreboardBody = `{
  "games": [
    {
      "id": "g1",
      "status": "in_progress",
      "start_time": "2026-03-01T18:00:00Z",
      "home": {"name": "Chiefs", "score": 14},
      "away": {"name": "Raiders", "score": 7}
    }
  ]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{
		BaseURL:           srv.URL,
		RequestsPerMinute: 6000, // don't throttle tests
		RequestTimeout:    2 * time.Second,
	}, logx.Nop())
}

func TestScoreboardParsesBothSides(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/scoreboard" {
			t.Errorf("path = %s, want /scoreboard", r.URL.Path)
		}
		_, _ = w.Write([]byte(scoreboardBody))
	})

	snaps, err := c.Scoreboard(context.Background())
	if err != nil {
		t.Fatalf("Scoreboard error: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("len(snaps) = %d, want 2 (one per side)", len(snaps))
	}

	home := snaps[0]
	if home.Team != "Chiefs" || home.Opponent != "Raiders" || !home.Home {
		t.Fatalf("home snapshot wrong: %+v", home)
	}
	if home.TeamScore != 14 || home.OpponentScore != 7 {
		t.Fatalf("home score wrong: %+v", home)
	}
	if home.Status != StatusInProgress {
		t.Fatalf("Status = %s, want in_progress", home.Status)
	}

	away := snaps[1]
	if away.Team != "Raiders" || away.TeamScore != 7 || away.OpponentScore != 14 || away.Home {
		t.Fatalf("away snapshot wrong: %+v", away)
	}
}

func TestTeamLookup(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("team"); got != "chiefs" {
			t.Errorf("team param = %q, want %q (normalized)", got, "chiefs")
		}
		_, _ = w.Write([]byte(scoreboardBody))
	})

	snap, err := c.Team(context.Background(), "  CHIEFS ")
	if err != nil {
		t.Fatalf("Team error: %v", err)
	}
	if snap.Team != "Chiefs" || snap.TeamScore != 14 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestTeamNotFound(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"games": []}`))
	})

	_, err := c.Team(context.Background(), "nowhere")
	if !errors.Is(err, ErrTeamNotFound) {
		t.Fatalf("err = %v, want ErrTeamNotFound", err)
	}
	if errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatal("a clean empty answer is not an upstream failure")
	}
}

func TestUpstreamErrorsWrapUnavailable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "http 500",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"games": [`))
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, tt.handler)
			_, err := c.Team(context.Background(), "chiefs")
			if !errors.Is(err, ErrUpstreamUnavailable) {
				t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
			}
			if errors.Is(err, ErrTeamNotFound) {
				t.Fatal("an upstream failure must never read as team-not-found")
			}
		})
	}
}

func TestAuthorizationHeader(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "secret-key" {
			t.Errorf("Authorization = %q, want %q", got, "secret-key")
		}
		_, _ = w.Write([]byte(`{"games": []}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(ClientConfig{
		BaseURL:           srv.URL,
		APIKey:            "secret-key",
		RequestsPerMinute: 6000,
	}, logx.Nop())
	if _, err := c.Scoreboard(context.Background()); err != nil {
		t.Fatalf("Scoreboard error: %v", err)
	}
}

func TestNormalizeTeam(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"Chiefs", "chiefs"},
		{"  New   York  ", "new york"},
		{"GIANTS", "giants"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := NormalizeTeam(tt.in); got != tt.want {
			t.Fatalf("NormalizeTeam(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
