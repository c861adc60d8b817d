package mongoadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"gymcore/contexts/community/vote-ledger/domain/entities"
	domainerrors "gymcore/contexts/community/vote-ledger/domain/errors"
	"gymcore/contexts/community/vote-ledger/ports"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	postsCollection  = "forumPosts"
	outboxCollection = "forumOutbox"

	// maxVoteRounds bounds how often ApplyVote re-reads a post whose voter
	// entry changed between the conditional updates.
	maxVoteRounds = 4
)

// Repository keeps each post's voter set inside the post document so every
// vote is a single-document conditional update. Voters are stored as an array
// of {identity, direction} because identities are emails and dotted keys are
// not usable as field names.
type Repository struct {
	posts  *mongo.Collection
	outbox *mongo.Collection
	logger *slog.Logger
}

func NewRepository(db *mongo.Database, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		posts:  db.Collection(postsCollection),
		outbox: db.Collection(outboxCollection),
		logger: logger,
	}
}

// EnsureIndexes creates the indexes the outbox poller relies on.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	_, err := r.outbox.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	if err != nil {
		return r.translate("vote_ledger_mongo_ensure_indexes_failed", err)
	}
	return nil
}

func (r *Repository) CreatePost(ctx context.Context, post entities.Post) error {
	_, err := r.posts.InsertOne(ctx, postDocumentFromEntity(post))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domainerrors.ErrPostExists
		}
		return r.translate("vote_ledger_mongo_create_post_failed", err, "post_id", post.PostID)
	}
	return nil
}

func (r *Repository) GetPost(ctx context.Context, postID string) (entities.Post, error) {
	var doc postDocument
	err := r.posts.FindOne(ctx, bson.D{{Key: "_id", Value: strings.TrimSpace(postID)}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entities.Post{}, domainerrors.ErrPostNotFound
		}
		return entities.Post{}, r.translate("vote_ledger_mongo_get_post_failed", err, "post_id", postID)
	}
	return doc.toEntity(), nil
}

// ApplyVote tries the two mutating transitions as guarded single-document
// updates, then falls back to a read to tell "unchanged" from "missing". A
// voter entry that moved between those steps causes another round.
func (r *Repository) ApplyVote(
	ctx context.Context,
	postID string,
	voterID string,
	direction entities.Direction,
	at time.Time,
) (ports.VoteApplication, error) {
	after := options.FindOneAndUpdate().SetReturnDocument(options.After)
	counter := counterField(direction)
	opposite := direction.Opposite()

	for round := 0; round < maxVoteRounds; round++ {
		var doc postDocument
		err := r.posts.FindOneAndUpdate(ctx,
			bson.D{
				{Key: "_id", Value: postID},
				{Key: "voters.identity", Value: bson.D{{Key: "$ne", Value: voterID}}},
			},
			bson.D{
				{Key: "$push", Value: bson.D{{Key: "voters", Value: voterDocument{Identity: voterID, Direction: string(direction)}}}},
				{Key: "$inc", Value: bson.D{{Key: counter, Value: 1}}},
				{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: at}}},
			},
			after,
		).Decode(&doc)
		if err == nil {
			return ports.VoteApplication{Outcome: entities.VoteApplied, Tally: doc.tally()}, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return ports.VoteApplication{}, r.translate("vote_ledger_mongo_add_vote_failed", err,
				"post_id", postID, "voter_id", voterID)
		}

		err = r.posts.FindOneAndUpdate(ctx,
			bson.D{
				{Key: "_id", Value: postID},
				{Key: "voters", Value: bson.D{{Key: "$elemMatch", Value: bson.D{
					{Key: "identity", Value: voterID},
					{Key: "direction", Value: string(opposite)},
				}}}},
			},
			bson.D{
				{Key: "$set", Value: bson.D{
					{Key: "voters.$.direction", Value: string(direction)},
					{Key: "updatedAt", Value: at},
				}},
				{Key: "$inc", Value: bson.D{
					{Key: counter, Value: 1},
					{Key: counterField(opposite), Value: -1},
				}},
			},
			after,
		).Decode(&doc)
		if err == nil {
			return ports.VoteApplication{
				Outcome:  entities.VoteFlipped,
				Previous: opposite,
				Tally:    doc.tally(),
			}, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return ports.VoteApplication{}, r.translate("vote_ledger_mongo_flip_vote_failed", err,
				"post_id", postID, "voter_id", voterID)
		}

		err = r.posts.FindOne(ctx, bson.D{{Key: "_id", Value: postID}}).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ports.VoteApplication{}, domainerrors.ErrPostNotFound
		}
		if err != nil {
			return ports.VoteApplication{}, r.translate("vote_ledger_mongo_read_vote_failed", err,
				"post_id", postID, "voter_id", voterID)
		}
		for _, voter := range doc.Voters {
			if voter.Identity == voterID && voter.Direction == string(direction) {
				return ports.VoteApplication{
					Outcome:  entities.VoteUnchanged,
					Previous: direction,
					Tally:    doc.tally(),
				}, nil
			}
		}
	}
	return ports.VoteApplication{}, domainerrors.ErrVoteContention
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	doc := outboxDocument{
		ID:           envelope.EventID,
		EventType:    envelope.EventType,
		PartitionKey: envelope.PartitionKey,
		Payload:      payload,
		Status:       "pending",
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	if _, err := r.outbox.InsertOne(ctx, doc); err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return r.translate("vote_ledger_mongo_append_outbox_failed", err, "outbox_id", doc.ID)
		}
		var existing outboxDocument
		if err := r.outbox.FindOne(ctx, bson.D{{Key: "_id", Value: doc.ID}}).Decode(&existing); err != nil {
			return r.translate("vote_ledger_mongo_append_outbox_load_existing_failed", err, "outbox_id", doc.ID)
		}
		if !bytes.Equal(existing.Payload, payload) {
			return domainerrors.ErrOutboxConflict
		}
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	cursor, err := r.outbox.Find(ctx,
		bson.D{{Key: "status", Value: "pending"}},
		options.Find().
			SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
			SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, r.translate("vote_ledger_mongo_list_outbox_failed", err, "limit", limit)
	}
	var docs []outboxDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, r.translate("vote_ledger_mongo_decode_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(docs))
	for _, doc := range docs {
		items = append(items, ports.OutboxMessage{
			OutboxID:     doc.ID,
			EventType:    doc.EventType,
			PartitionKey: doc.PartitionKey,
			Payload:      doc.Payload,
			CreatedAt:    doc.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result, err := r.outbox.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: outboxID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: "published"},
			{Key: "publishedAt", Value: publishedAt.UTC()},
		}}},
	)
	if err != nil {
		return r.translate("vote_ledger_mongo_mark_outbox_failed", err, "outbox_id", outboxID)
	}
	if result.MatchedCount == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) translate(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "community/vote-ledger",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("vote ledger mongo operation failed", fields...)
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domainerrors.Transient(err)
	}
	return err
}

type voterDocument struct {
	Identity  string `bson:"identity"`
	Direction string `bson:"direction"`
}

type postDocument struct {
	ID            string          `bson:"_id"`
	AuthorID      string          `bson:"authorId"`
	Title         string          `bson:"title"`
	Body          string          `bson:"body"`
	UpvoteCount   int64           `bson:"upvoteCount"`
	DownvoteCount int64           `bson:"downvoteCount"`
	Voters        []voterDocument `bson:"voters"`
	CreatedAt     time.Time       `bson:"createdAt"`
	UpdatedAt     time.Time       `bson:"updatedAt"`
}

func postDocumentFromEntity(post entities.Post) postDocument {
	voters := make([]voterDocument, 0, len(post.Voters))
	for identity, direction := range post.Voters {
		voters = append(voters, voterDocument{Identity: identity, Direction: string(direction)})
	}
	return postDocument{
		ID:            post.PostID,
		AuthorID:      post.AuthorID,
		Title:         post.Title,
		Body:          post.Body,
		UpvoteCount:   post.Upvotes,
		DownvoteCount: post.Downvotes,
		Voters:        voters,
		CreatedAt:     post.CreatedAt.UTC(),
		UpdatedAt:     post.UpdatedAt.UTC(),
	}
}

func (d postDocument) tally() entities.Tally {
	return entities.Tally{Upvotes: d.UpvoteCount, Downvotes: d.DownvoteCount}
}

func (d postDocument) toEntity() entities.Post {
	voters := make(map[string]entities.Direction, len(d.Voters))
	for _, voter := range d.Voters {
		voters[voter.Identity] = entities.Direction(voter.Direction)
	}
	return entities.Post{
		PostID:    d.ID,
		AuthorID:  d.AuthorID,
		Title:     d.Title,
		Body:      d.Body,
		Upvotes:   d.UpvoteCount,
		Downvotes: d.DownvoteCount,
		Voters:    voters,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

type outboxDocument struct {
	ID           string     `bson:"_id"`
	EventType    string     `bson:"eventType"`
	PartitionKey string     `bson:"partitionKey"`
	Payload      []byte     `bson:"payload"`
	Status       string     `bson:"status"`
	CreatedAt    time.Time  `bson:"createdAt"`
	PublishedAt  *time.Time `bson:"publishedAt,omitempty"`
}

func counterField(direction entities.Direction) string {
	if direction == entities.DirectionUp {
		return "upvoteCount"
	}
	return "downvoteCount"
}

var _ ports.PostRepository = (*Repository)(nil)
var _ ports.OutboxWriter = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
