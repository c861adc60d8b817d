package ports

import (
	"context"
	"time"

	eventsv1 "gymcore/contracts/events/v1"
	"gymcore/contexts/community/vote-ledger/domain/entities"
)

// VoteApplication is the result of one atomic vote mutation.
type VoteApplication struct {
	Outcome  entities.VoteOutcome
	Previous entities.Direction
	Tally    entities.Tally
}

// PostRepository stores forum posts with their voter sets. ApplyVote must be a
// single atomic conditional update on one post: concurrent calls for the same
// post serialize, calls for different posts do not contend.
type PostRepository interface {
	CreatePost(ctx context.Context, post entities.Post) error
	GetPost(ctx context.Context, postID string) (entities.Post, error)
	ApplyVote(
		ctx context.Context,
		postID string,
		voterID string,
		direction entities.Direction,
		at time.Time,
	) (VoteApplication, error)
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

type EventEnvelope = eventsv1.Envelope

type OutboxWriter interface {
	AppendOutbox(ctx context.Context, envelope EventEnvelope) error
}

type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}
