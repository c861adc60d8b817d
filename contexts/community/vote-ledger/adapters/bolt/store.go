package boltadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"gymcore/contexts/community/vote-ledger/domain/entities"
	domainerrors "gymcore/contexts/community/vote-ledger/domain/errors"
	"gymcore/contexts/community/vote-ledger/ports"

	bolt "github.com/boltdb/bolt"
)

var (
	postsBucket  = []byte("forum_posts")
	outboxBucket = []byte("forum_outbox")
)

// Store keeps posts as JSON documents in an embedded bolt file. Each vote is
// one read-modify-write inside a single update transaction.
type Store struct {
	db     *bolt.DB
	logger *slog.Logger
}

// NewStore ensures the ledger buckets exist on an already opened database.
func NewStore(db *bolt.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{postsBucket, outboxBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) CreatePost(ctx context.Context, post entities.Post) error {
	if err := ctx.Err(); err != nil {
		return domainerrors.Transient(err)
	}
	return s.update("vote_ledger_bolt_create_post_failed", func(tx *bolt.Tx) error {
		bucket := tx.Bucket(postsBucket)
		key := []byte(post.PostID)
		if bucket.Get(key) != nil {
			return domainerrors.ErrPostExists
		}
		return putJSON(bucket, key, post)
	})
}

func (s *Store) GetPost(ctx context.Context, postID string) (entities.Post, error) {
	if err := ctx.Err(); err != nil {
		return entities.Post{}, domainerrors.Transient(err)
	}
	var post entities.Post
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(postsBucket).Get([]byte(strings.TrimSpace(postID)))
		if raw == nil {
			return domainerrors.ErrPostNotFound
		}
		return json.Unmarshal(raw, &post)
	})
	if err != nil {
		return entities.Post{}, err
	}
	return post, nil
}

func (s *Store) ApplyVote(
	ctx context.Context,
	postID string,
	voterID string,
	direction entities.Direction,
	at time.Time,
) (ports.VoteApplication, error) {
	if err := ctx.Err(); err != nil {
		return ports.VoteApplication{}, domainerrors.Transient(err)
	}
	var result ports.VoteApplication
	err := s.update("vote_ledger_bolt_apply_vote_failed", func(tx *bolt.Tx) error {
		bucket := tx.Bucket(postsBucket)
		key := []byte(postID)
		raw := bucket.Get(key)
		if raw == nil {
			return domainerrors.ErrPostNotFound
		}
		var post entities.Post
		if err := json.Unmarshal(raw, &post); err != nil {
			return err
		}
		result.Previous = post.Voters[voterID]
		result.Outcome = post.ApplyVote(voterID, direction, at)
		result.Tally = post.Tally()
		if result.Outcome == entities.VoteUnchanged {
			return nil
		}
		return putJSON(bucket, key, post)
	})
	if err != nil {
		return ports.VoteApplication{}, err
	}
	return result, nil
}

type outboxEntry struct {
	Message   ports.OutboxMessage `json:"message"`
	Published bool                `json:"published"`
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return s.update("vote_ledger_bolt_append_outbox_failed", func(tx *bolt.Tx) error {
		bucket := tx.Bucket(outboxBucket)
		key := []byte(envelope.EventID)
		if raw := bucket.Get(key); raw != nil {
			var existing outboxEntry
			if err := json.Unmarshal(raw, &existing); err != nil {
				return err
			}
			if !bytes.Equal(existing.Message.Payload, payload) {
				return domainerrors.ErrOutboxConflict
			}
			return nil
		}
		return putJSON(bucket, key, outboxEntry{Message: ports.OutboxMessage{
			OutboxID:     envelope.EventID,
			EventType:    envelope.EventType,
			PartitionKey: envelope.PartitionKey,
			Payload:      payload,
			CreatedAt:    envelope.OccurredAt.UTC(),
		}})
	})
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	var items []ports.OutboxMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(outboxBucket).ForEach(func(_, v []byte) error {
			var entry outboxEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if !entry.Published {
				items = append(items, entry.Message)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].OutboxID < items[j].OutboxID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	return s.update("vote_ledger_bolt_mark_outbox_failed", func(tx *bolt.Tx) error {
		bucket := tx.Bucket(outboxBucket)
		key := []byte(outboxID)
		raw := bucket.Get(key)
		if raw == nil {
			return domainerrors.ErrConflict
		}
		var entry outboxEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return err
		}
		entry.Published = true
		return putJSON(bucket, key, entry)
	})
}

func (s *Store) update(event string, fn func(tx *bolt.Tx) error) error {
	err := s.db.Update(fn)
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	s.logger.Error("vote ledger bolt operation failed",
		"event", event,
		"module", "community/vote-ledger",
		"layer", "adapter",
		"error", err.Error(),
	)
	if errors.Is(err, bolt.ErrTimeout) || errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return domainerrors.Transient(err)
	}
	return err
}

func isDomainError(err error) bool {
	for _, category := range []error{
		domainerrors.ErrNotFound,
		domainerrors.ErrConflict,
		domainerrors.ErrInvalid,
		domainerrors.ErrTransient,
	} {
		if errors.Is(err, category) {
			return true
		}
	}
	return false
}

func putJSON(bucket *bolt.Bucket, key []byte, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return bucket.Put(key, raw)
}

var _ ports.PostRepository = (*Store)(nil)
var _ ports.OutboxWriter = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
