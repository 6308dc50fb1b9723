package app

import (
	"github.com/rs/zerolog/log"

	"github.com/edlive/classroom/internal/core"
)

// LogSink is the default event subscriber: it writes room lifecycle events
// to the structured log. A durable attendance or chat store would implement
// core.EventSink the same way.
type LogSink struct{}

func (LogSink) RoomEvent(evt core.Event) {
	log.Info().
		Str("module", "app.events").
		Str("kind", string(evt.Kind)).
		Str("room", string(evt.RoomID)).
		Str("member", evt.Member.ID).
		Str("reason", evt.Reason).
		Msg("room event")
}
