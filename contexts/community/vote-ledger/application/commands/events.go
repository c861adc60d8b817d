package commands

import (
	"time"

	eventsv1 "gymcore/contracts/events/v1"
	"gymcore/contexts/community/vote-ledger/ports"
)

const (
	eventPostCreated  = "forum.post.created"
	eventVoteApplied  = "forum.vote.applied"
	eventSourceLedger = "vote-ledger"
)

// Ledger events are partitioned by post so consumers see one post's votes in
// order.
func newLedgerEnvelope(
	eventID string,
	eventType string,
	postID string,
	occurredAt time.Time,
	data map[string]any,
) (ports.EventEnvelope, error) {
	return eventsv1.New(eventID, eventType, eventSourceLedger, "post_id", postID, occurredAt, data)
}
