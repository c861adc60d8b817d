package postgresadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"gymcore/contexts/community/vote-ledger/domain/entities"
	domainerrors "gymcore/contexts/community/vote-ledger/domain/errors"
	"gymcore/contexts/community/vote-ledger/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// AutoMigrate creates the ledger tables when they do not exist yet.
func (r *Repository) AutoMigrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&forumPostModel{}, &postVoteModel{}, &outboxModel{}); err != nil {
		return r.logError("vote_ledger_repo_migrate_failed", err)
	}
	return nil
}

func (r *Repository) CreatePost(ctx context.Context, post entities.Post) error {
	row := forumPostModelFromEntity(post)
	create := r.db.WithContext(ctx).Create(&row)
	if create.Error != nil {
		if isUniqueViolation(create.Error) {
			return domainerrors.ErrPostExists
		}
		return r.translate("vote_ledger_repo_create_post_failed", create.Error, "post_id", post.PostID)
	}
	return nil
}

func (r *Repository) GetPost(ctx context.Context, postID string) (entities.Post, error) {
	postID = strings.TrimSpace(postID)
	var row forumPostModel
	err := r.db.WithContext(ctx).Where("id = ?", postID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Post{}, domainerrors.ErrPostNotFound
		}
		return entities.Post{}, r.translate("vote_ledger_repo_get_post_failed", err, "post_id", postID)
	}
	var votes []postVoteModel
	if err := r.db.WithContext(ctx).Where("post_id = ?", postID).Find(&votes).Error; err != nil {
		return entities.Post{}, r.translate("vote_ledger_repo_list_votes_failed", err, "post_id", postID)
	}
	return row.toEntity(votes), nil
}

// ApplyVote locks the post row, then inserts or flips the voter row and moves
// the counters inside the same transaction.
func (r *Repository) ApplyVote(
	ctx context.Context,
	postID string,
	voterID string,
	direction entities.Direction,
	at time.Time,
) (ports.VoteApplication, error) {
	var result ports.VoteApplication
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post forumPostModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", postID).
			First(&post).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrPostNotFound
			}
			return err
		}

		var vote postVoteModel
		err := tx.Where("post_id = ? AND voter_id = ?", postID, voterID).Take(&vote).Error
		var up, down int64
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(&postVoteModel{
				PostID:    postID,
				VoterID:   voterID,
				Direction: string(direction),
				CreatedAt: at,
				UpdatedAt: at,
			}).Error; err != nil {
				return err
			}
			up, down = counterDelta(direction, 1)
			result.Outcome = entities.VoteApplied
		case err != nil:
			return err
		case entities.Direction(vote.Direction) == direction:
			result = ports.VoteApplication{
				Outcome:  entities.VoteUnchanged,
				Previous: direction,
				Tally:    entities.Tally{Upvotes: post.UpvoteCount, Downvotes: post.DownvoteCount},
			}
			return nil
		default:
			if err := tx.Model(&postVoteModel{}).
				Where("post_id = ? AND voter_id = ?", postID, voterID).
				Updates(map[string]any{"direction": string(direction), "updated_at": at}).Error; err != nil {
				return err
			}
			oldUp, oldDown := counterDelta(entities.Direction(vote.Direction), -1)
			newUp, newDown := counterDelta(direction, 1)
			up, down = oldUp+newUp, oldDown+newDown
			result.Outcome = entities.VoteFlipped
			result.Previous = entities.Direction(vote.Direction)
		}

		if err := tx.Model(&forumPostModel{}).
			Where("id = ?", postID).
			Updates(map[string]any{
				"upvote_count":   gorm.Expr("upvote_count + ?", up),
				"downvote_count": gorm.Expr("downvote_count + ?", down),
				"updated_at":     at,
			}).Error; err != nil {
			return err
		}
		result.Tally = entities.Tally{
			Upvotes:   post.UpvoteCount + up,
			Downvotes: post.DownvoteCount + down,
		}
		return nil
	})
	if err != nil {
		return ports.VoteApplication{}, r.translate("vote_ledger_repo_apply_vote_failed", err,
			"post_id", postID,
			"voter_id", voterID,
		)
	}
	return result, nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return r.logError("vote_ledger_repo_append_outbox_marshal_failed", err,
			"event_id", envelope.EventID,
		)
	}
	row := outboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.translate("vote_ledger_repo_append_outbox_insert_failed", create.Error,
			"outbox_id", row.OutboxID,
		)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing outboxModel
	if err := r.db.WithContext(ctx).
		Select("payload").
		Where("outbox_id = ?", row.OutboxID).
		First(&existing).Error; err != nil {
		return r.translate("vote_ledger_repo_append_outbox_load_existing_failed", err,
			"outbox_id", row.OutboxID,
		)
	}
	if !bytes.Equal(existing.Payload, row.Payload) {
		return domainerrors.ErrOutboxConflict
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("created_at ASC").
		Order("outbox_id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.translate("vote_ledger_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.translate("vote_ledger_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

// translate passes domain errors through and tags driver failures that are
// safe to retry as transient.
func (r *Repository) translate(event string, err error, attrs ...any) error {
	if errors.Is(err, domainerrors.ErrNotFound) ||
		errors.Is(err, domainerrors.ErrConflict) ||
		errors.Is(err, domainerrors.ErrInvalid) {
		return err
	}
	r.logError(event, err, attrs...)
	if isTransient(err) {
		return domainerrors.Transient(err)
	}
	return err
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "community/vote-ledger",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("vote ledger repository operation failed", fields...)
	return err
}

type forumPostModel struct {
	ID            string    `gorm:"column:id;primaryKey"`
	AuthorID      string    `gorm:"column:author_id;not null"`
	Title         string    `gorm:"column:title;not null"`
	Body          string    `gorm:"column:body"`
	UpvoteCount   int64     `gorm:"column:upvote_count;not null;default:0"`
	DownvoteCount int64     `gorm:"column:downvote_count;not null;default:0"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (forumPostModel) TableName() string {
	return "forum_posts"
}

func forumPostModelFromEntity(post entities.Post) forumPostModel {
	return forumPostModel{
		ID:            strings.TrimSpace(post.PostID),
		AuthorID:      strings.TrimSpace(post.AuthorID),
		Title:         post.Title,
		Body:          post.Body,
		UpvoteCount:   post.Upvotes,
		DownvoteCount: post.Downvotes,
		CreatedAt:     post.CreatedAt.UTC(),
		UpdatedAt:     post.UpdatedAt.UTC(),
	}
}

func (m forumPostModel) toEntity(votes []postVoteModel) entities.Post {
	voters := make(map[string]entities.Direction, len(votes))
	for _, vote := range votes {
		voters[vote.VoterID] = entities.Direction(vote.Direction)
	}
	return entities.Post{
		PostID:    m.ID,
		AuthorID:  m.AuthorID,
		Title:     m.Title,
		Body:      m.Body,
		Upvotes:   m.UpvoteCount,
		Downvotes: m.DownvoteCount,
		Voters:    voters,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

type postVoteModel struct {
	PostID    string    `gorm:"column:post_id;primaryKey"`
	VoterID   string    `gorm:"column:voter_id;primaryKey"`
	Direction string    `gorm:"column:direction;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (postVoteModel) TableName() string {
	return "forum_post_votes"
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status;index"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "forum_outbox"
}

func counterDelta(direction entities.Direction, delta int64) (int64, int64) {
	if direction == entities.DirectionUp {
		return delta, 0
	}
	return 0, delta
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "57P01":
			return true
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "53"):
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

var _ ports.PostRepository = (*Repository)(nil)
var _ ports.OutboxWriter = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
