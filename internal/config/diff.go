package config

import "encoding/json"

// ChangedSections reports which top-level config sections differ between two
// configs. Used only for reload logging; comparison is by canonical JSON so
// field ordering and formatting don't matter.
func ChangedSections(old, new *Config) []string {
	if old == nil || new == nil {
		return []string{"all"}
	}
	var out []string
	if !jsonEqual(old.Telegram, new.Telegram) {
		out = append(out, "telegram")
	}
	if !jsonEqual(old.Logging, new.Logging) {
		out = append(out, "logging")
	}
	if !jsonEqual(old.Scoreboard, new.Scoreboard) {
		out = append(out, "scoreboard")
	}
	if !jsonEqual(old.Scheduler, new.Scheduler) {
		out = append(out, "scheduler")
	}
	if !jsonEqual(old.Dispatcher, new.Dispatcher) {
		out = append(out, "dispatcher")
	}
	if !jsonEqual(old.Storage, new.Storage) {
		out = append(out, "storage")
	}
	return out
}

func jsonEqual(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}
