package command

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parse maps bot command text onto an Intent.
//
// Grammar:
//
//	/follow <teams> [every <cadence>]   teams comma- or space-separated
//	/unfollow [teams]                   no teams = unfollow everything
//	/score <team>
//	/status
//	/help, /start
//	/tick                               operator: force an evaluation pass
//
// Cadence accepts Go durations ("15m", "1h") or a bare minute count ("15").
// Text that isn't a slash command returns ErrUnknownCommand.
func Parse(text string) (Intent, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Intent{}, ErrUnknownCommand
	}

	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Strip the bot-mention suffix Telegram appends in groups.
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	switch cmd {
	case "follow", "subscribe":
		teams, cadence, err := parseFollowArgs(args)
		if err != nil {
			return Intent{}, err
		}
		return Intent{Kind: KindSubscribe, Teams: teams, Cadence: cadence}, nil

	case "unfollow", "unsubscribe":
		return Intent{Kind: KindUnsubscribe, Teams: splitTeams(args)}, nil

	case "score":
		teams := splitTeams(args)
		if len(teams) == 0 {
			return Intent{}, fmt.Errorf("usage: /score <team>")
		}
		return Intent{Kind: KindQuery, Teams: teams}, nil

	case "status":
		return Intent{Kind: KindStatus}, nil

	case "help", "start":
		return Intent{Kind: KindHelp}, nil

	case "tick":
		// Operator command: force an evaluation pass now. Deliberately
		// absent from /help.
		return Intent{Kind: KindTick}, nil

	default:
		return Intent{}, ErrUnknownCommand
	}
}

// parseFollowArgs splits "<teams> [every <cadence>]".
func parseFollowArgs(args []string) (teams []string, cadence time.Duration, err error) {
	teamArgs := args
	for i, a := range args {
		if strings.EqualFold(a, "every") {
			if i+1 >= len(args) {
				return nil, 0, fmt.Errorf("missing cadence after %q", "every")
			}
			cadence, err = parseCadence(strings.Join(args[i+1:], ""))
			if err != nil {
				return nil, 0, err
			}
			teamArgs = args[:i]
			break
		}
	}
	teams = splitTeams(teamArgs)
	if len(teams) == 0 {
		return nil, 0, fmt.Errorf("usage: /follow <teams> [every <cadence>]")
	}
	return teams, cadence, nil
}

// parseCadence accepts a Go duration or a bare minute count.
func parseCadence(raw string) (time.Duration, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("cadence must be positive, got %d", n)
		}
		return time.Duration(n) * time.Minute, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid cadence %q (try \"15m\" or \"15\")", raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("cadence must be positive, got %s", d)
	}
	return d, nil
}

// splitTeams tolerates both comma- and space-separated team lists.
func splitTeams(args []string) []string {
	var out []string
	for _, a := range args {
		for _, part := range strings.Split(a, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
