package consumer

import (
	"context"

	"example.com/daystats/internal/events"
)

// Invalidator drops cached query results.
type Invalidator interface {
	Invalidate()
}

// InvalidationHandler invalidates a local query cache when another replica
// commits a ledger write.
type InvalidationHandler struct {
	target Invalidator
}

// NewInvalidationHandler constructs an InvalidationHandler.
func NewInvalidationHandler(target Invalidator) *InvalidationHandler {
	return &InvalidationHandler{target: target}
}

// Handle implements Handler.
func (h *InvalidationHandler) Handle(_ context.Context, msg Message) error {
	switch msg.EventType {
	case events.TypeDayContributed, events.TypeActivitiesReplaced:
		h.target.Invalidate()
	}
	return nil
}
