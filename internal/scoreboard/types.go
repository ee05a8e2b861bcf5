package scoreboard

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrUpstreamUnavailable wraps any network, HTTP, or parse failure from the
// scoreboard API. Callers must treat it as "no data this tick", never as
// "team does not exist".
var ErrUpstreamUnavailable = errors.New("scoreboard upstream unavailable")

// ErrTeamNotFound means the upstream answered successfully but has no game
// for the requested team (off day, unknown name).
var ErrTeamNotFound = errors.New("team not found on scoreboard")

type GameStatus string

const (
	StatusScheduled  GameStatus = "scheduled"
	StatusInProgress GameStatus = "in_progress"
	StatusFinal      GameStatus = "final"
)

// Snapshot is one team's view of its current game, as last fetched from
// upstream. Snapshots are never persisted across ticks; they are re-derived
// from the Gateway each evaluation pass.
type Snapshot struct {
	GameID        string
	Team          string // display name
	Opponent      string
	TeamScore     int
	OpponentScore int
	Home          bool
	Status        GameStatus
	StartTime     time.Time
}

// Gateway is the read-only upstream boundary.
type Gateway interface {
	// Scoreboard returns a snapshot per team currently on the board.
	Scoreboard(ctx context.Context) ([]Snapshot, error)
	// Team returns the snapshot for a single team (normalized name).
	Team(ctx context.Context, name string) (Snapshot, error)
}

// NormalizeTeam canonicalizes a team identifier: lower-cased, trimmed,
// inner whitespace collapsed. All team keys in the system use this form.
func NormalizeTeam(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
