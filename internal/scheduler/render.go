package scheduler

import (
	"fmt"
	"hash/fnv"
	"strings"

	"scorebot/internal/scoreboard"
)

// renderPayload builds the per-subscriber message from only the teams it
// watches. Teams are already sorted, so identical state always renders to
// identical text (and therefore an identical hash).
//
// Teams absent from today's scoreboard render a "no game" line; that is a
// legitimate state, distinct from an upstream fetch failure.
func renderPayload(teams []string, snaps map[string]scoreboard.Snapshot) string {
	var b strings.Builder
	b.WriteString("Score update\n")
	for _, team := range teams {
		snap, ok := snaps[team]
		if !ok {
			fmt.Fprintf(&b, "%s: no game on today's scoreboard\n", team)
			continue
		}
		fmt.Fprintf(&b, "%s %d — %s %d (%s)\n",
			snap.Team, snap.TeamScore, snap.Opponent, snap.OpponentScore, statusLabel(snap.Status))
	}
	return strings.TrimRight(b.String(), "\n")
}

func statusLabel(s scoreboard.GameStatus) string {
	switch s {
	case scoreboard.StatusScheduled:
		return "scheduled"
	case scoreboard.StatusInProgress:
		return "live"
	case scoreboard.StatusFinal:
		return "final"
	default:
		return string(s)
	}
}

// payloadHash returns a stable 64-bit digest of rendered content.
// Duplicate suppression compares these, not raw strings.
func payloadHash(payload string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(payload))
	return h.Sum64()
}
