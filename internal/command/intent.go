package command

import (
	"errors"
	"time"
)

// Kind is the normalized command intent. The store and scheduler only ever
// see this form; raw text never travels past the parser.
type Kind string

const (
	KindSubscribe   Kind = "subscribe"
	KindUnsubscribe Kind = "unsubscribe"
	KindQuery       Kind = "query"
	KindHelp        Kind = "help"
	KindStatus      Kind = "status"
	KindTick        Kind = "tick"
)

// ErrUnknownCommand marks text that isn't addressed to the bot.
var ErrUnknownCommand = errors.New("unknown command")

// Intent is one parsed user request.
type Intent struct {
	Kind Kind
	// SubscriberID is filled in by the router from the message origin.
	SubscriberID string
	// Teams is raw (un-normalized) team names; the store normalizes.
	Teams []string
	// Cadence is zero when the user didn't specify one.
	Cadence time.Duration
}
