package question

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// InvalidateSubject is the NATS subject carrying question-mapping
// change events. Admin tooling publishes here whenever a
// question-to-industry-code mapping or an insurer's question mapping
// changes.
const InvalidateSubject = "quotecore.questions.invalidate"

// InvalidateEvent names the cache scope to drop. Zero values widen the
// scope (e.g. industry_code only drops that industry for every
// insurer).
type InvalidateEvent struct {
	InsurerID    int64 `json:"insurer_id,omitempty"`
	IndustryCode int64 `json:"industry_code,omitempty"`
}

// SubscribeInvalidations wires mapping-change events to cache
// invalidation. Malformed events are logged and dropped; the cache TTL
// backstops anything missed.
func SubscribeInvalidations(nc *nats.Conn, cache Cache, log zerolog.Logger) (*nats.Subscription, error) {
	logger := log.With().Str("component", "question_cache_invalidator").Logger()

	return nc.Subscribe(InvalidateSubject, func(msg *nats.Msg) {
		var event InvalidateEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.Warn().Err(err).Msg("dropping malformed invalidation event")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cache.Invalidate(ctx, event.InsurerID, event.IndustryCode)

		logger.Debug().
			Int64("insurer_id", event.InsurerID).
			Int64("industry_code", event.IndustryCode).
			Msg("question cache invalidated")
	})
}
