package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "gymcore/contexts/community/vote-ledger/application"
	"gymcore/contexts/community/vote-ledger/domain/entities"
	domainerrors "gymcore/contexts/community/vote-ledger/domain/errors"
	"gymcore/contexts/community/vote-ledger/ports"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("gymcore/contexts/community/vote-ledger")

type ApplyVoteCommand struct {
	PostID    string
	VoterID   string
	Direction entities.Direction
}

type ApplyVoteResult struct {
	PostID    string
	VoterID   string
	Direction entities.Direction
	Outcome   entities.VoteOutcome
	Tally     entities.Tally
}

type CreatePostCommand struct {
	AuthorID string
	Title    string
	Body     string
}

// VoteUseCase owns every mutation of a post's voter set and tally. Each vote
// is one atomic store call, so the counters never drift from the voter set.
type VoteUseCase struct {
	Posts        ports.PostRepository
	Outbox       ports.OutboxWriter
	Clock        ports.Clock
	IDGen        ports.IDGenerator
	StoreTimeout time.Duration
	Logger       *slog.Logger
}

// ApplyVote records voterID's direction on a post. Re-sending the current
// direction is a no-op and sending the opposite one flips it.
func (uc VoteUseCase) ApplyVote(ctx context.Context, cmd ApplyVoteCommand) (ApplyVoteResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	postID := strings.TrimSpace(cmd.PostID)
	voterID := strings.TrimSpace(cmd.VoterID)
	direction := entities.Direction(strings.ToLower(strings.TrimSpace(string(cmd.Direction))))

	ctx, span := tracer.Start(ctx, "vote_ledger.apply_vote")
	defer span.End()
	span.SetAttributes(
		attribute.String("post_id", postID),
		attribute.String("direction", string(direction)),
	)

	if postID == "" || voterID == "" || !direction.Valid() {
		logger.Warn("vote apply validation failed",
			"event", "vote_ledger_apply_validation_failed",
			"module", "community/vote-ledger",
			"layer", "application",
			"post_id", postID,
			"voter_id", voterID,
			"direction", string(direction),
		)
		span.SetStatus(codes.Error, "invalid input")
		return ApplyVoteResult{}, domainerrors.ErrInvalidVoteInput
	}

	now := uc.now()
	storeCtx, cancel := application.StoreContext(ctx, uc.StoreTimeout)
	applied, err := uc.Posts.ApplyVote(storeCtx, postID, voterID, direction, now)
	cancel()
	if err != nil {
		err = application.ClassifyStoreError(err)
		logger.Warn("vote apply failed",
			"event", "vote_ledger_apply_failed",
			"module", "community/vote-ledger",
			"layer", "application",
			"post_id", postID,
			"voter_id", voterID,
			"error", err.Error(),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ApplyVoteResult{}, err
	}

	result := ApplyVoteResult{
		PostID:    postID,
		VoterID:   voterID,
		Direction: direction,
		Outcome:   applied.Outcome,
		Tally:     applied.Tally,
	}
	span.SetAttributes(attribute.String("outcome", string(applied.Outcome)))

	if applied.Outcome != entities.VoteUnchanged {
		data := map[string]any{
			"post_id":     postID,
			"voter_id":    voterID,
			"direction":   string(direction),
			"outcome":     string(applied.Outcome),
			"upvotes":     applied.Tally.Upvotes,
			"downvotes":   applied.Tally.Downvotes,
			"occurred_at": now.Format(time.RFC3339),
		}
		if applied.Previous != "" {
			data["previous_direction"] = string(applied.Previous)
		}
		// The vote itself is already durable, so a lost event is logged rather
		// than surfaced as a failed vote.
		if err := uc.appendEvent(ctx, eventVoteApplied, postID, now, data); err != nil {
			logger.Error("vote event append failed",
				"event", "vote_ledger_outbox_append_failed",
				"module", "community/vote-ledger",
				"layer", "application",
				"post_id", postID,
				"voter_id", voterID,
				"error", err.Error(),
			)
		}
	}

	logger.Info("vote applied",
		"event", "vote_ledger_vote_applied",
		"module", "community/vote-ledger",
		"layer", "application",
		"post_id", postID,
		"voter_id", voterID,
		"direction", string(direction),
		"outcome", string(applied.Outcome),
		"upvotes", applied.Tally.Upvotes,
		"downvotes", applied.Tally.Downvotes,
	)
	return result, nil
}

func (uc VoteUseCase) CreatePost(ctx context.Context, cmd CreatePostCommand) (entities.Post, error) {
	logger := application.ResolveLogger(uc.Logger)
	authorID := strings.TrimSpace(cmd.AuthorID)
	title := strings.TrimSpace(cmd.Title)
	if authorID == "" || title == "" {
		logger.Warn("post create validation failed",
			"event", "vote_ledger_post_create_validation_failed",
			"module", "community/vote-ledger",
			"layer", "application",
			"author_id", authorID,
		)
		return entities.Post{}, domainerrors.ErrInvalidPostInput
	}

	postID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return entities.Post{}, err
	}
	now := uc.now()
	post := entities.Post{
		PostID:    postID,
		AuthorID:  authorID,
		Title:     title,
		Body:      strings.TrimSpace(cmd.Body),
		Voters:    map[string]entities.Direction{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	storeCtx, cancel := application.StoreContext(ctx, uc.StoreTimeout)
	err = uc.Posts.CreatePost(storeCtx, post)
	cancel()
	if err != nil {
		return entities.Post{}, application.ClassifyStoreError(err)
	}

	if err := uc.appendEvent(ctx, eventPostCreated, post.PostID, now, map[string]any{
		"post_id":     post.PostID,
		"author_id":   post.AuthorID,
		"title":       post.Title,
		"occurred_at": now.Format(time.RFC3339),
	}); err != nil {
		logger.Error("post event append failed",
			"event", "vote_ledger_outbox_append_failed",
			"module", "community/vote-ledger",
			"layer", "application",
			"post_id", post.PostID,
			"error", err.Error(),
		)
	}

	logger.Info("post created",
		"event", "vote_ledger_post_created",
		"module", "community/vote-ledger",
		"layer", "application",
		"post_id", post.PostID,
		"author_id", post.AuthorID,
	)
	return post, nil
}

func (uc VoteUseCase) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (uc VoteUseCase) appendEvent(
	ctx context.Context,
	eventType string,
	postID string,
	occurredAt time.Time,
	data map[string]any,
) error {
	if uc.Outbox == nil {
		return nil
	}
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	envelope, err := newLedgerEnvelope(eventID, eventType, postID, occurredAt, data)
	if err != nil {
		return err
	}
	storeCtx, cancel := application.StoreContext(ctx, uc.StoreTimeout)
	defer cancel()
	return uc.Outbox.AppendOutbox(storeCtx, envelope)
}
