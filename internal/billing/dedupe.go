package billing

import "context"

// Deduper tracks webhook event IDs that were already processed, so a
// redelivered event can be acknowledged without reapplying its mutations.
// Seen is a pure read; the processor calls Mark only after the event's
// handler succeeds, so a delivery that failed and was answered with an error
// status is reprocessed on redelivery.
type Deduper interface {
	// Seen reports whether the event ID was already marked as processed.
	Seen(ctx context.Context, eventID string) (bool, error)

	// Mark records the event ID as processed.
	Mark(ctx context.Context, eventID string) error
}
