package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"gymcore/contexts/community/vote-ledger/domain/entities"
	domainerrors "gymcore/contexts/community/vote-ledger/domain/errors"
	"gymcore/contexts/community/vote-ledger/ports"

	"github.com/google/uuid"
)

// postRecord carries its own lock so votes on different posts never wait on
// each other. Store.mu only guards the map itself.
type postRecord struct {
	mu   sync.Mutex
	post entities.Post
}

type outboxRecord struct {
	message   ports.OutboxMessage
	published bool
}

type Store struct {
	mu     sync.RWMutex
	posts  map[string]*postRecord
	outbox map[string]outboxRecord
}

func NewStore(seed []entities.Post) *Store {
	posts := make(map[string]*postRecord, len(seed))
	for _, post := range seed {
		posts[post.PostID] = &postRecord{post: post.Clone()}
	}
	return &Store{
		posts:  posts,
		outbox: make(map[string]outboxRecord),
	}
}

// SetPost seeds or replaces a post, counters included.
func (s *Store) SetPost(post entities.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[strings.TrimSpace(post.PostID)] = &postRecord{post: post.Clone()}
}

func (s *Store) CreatePost(_ context.Context, post entities.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.posts[post.PostID]; exists {
		return domainerrors.ErrPostExists
	}
	s.posts[post.PostID] = &postRecord{post: post.Clone()}
	return nil
}

func (s *Store) GetPost(_ context.Context, postID string) (entities.Post, error) {
	record, ok := s.record(postID)
	if !ok {
		return entities.Post{}, domainerrors.ErrPostNotFound
	}
	record.mu.Lock()
	defer record.mu.Unlock()
	return record.post.Clone(), nil
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
	record, ok := s.record(postID)
	if !ok {
		return ports.VoteApplication{}, domainerrors.ErrPostNotFound
	}
	record.mu.Lock()
	defer record.mu.Unlock()

	previous := record.post.Voters[voterID]
	outcome := record.post.ApplyVote(voterID, direction, at)
	return ports.VoteApplication{
		Outcome:  outcome,
		Previous: previous,
		Tally:    record.post.Tally(),
	}, nil
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.outbox[envelope.EventID]; ok {
		if !bytes.Equal(existing.message.Payload, payload) {
			return domainerrors.ErrOutboxConflict
		}
		return nil
	}
	s.outbox[envelope.EventID] = outboxRecord{
		message: ports.OutboxMessage{
			OutboxID:     envelope.EventID,
			EventType:    envelope.EventType,
			PartitionKey: envelope.PartitionKey,
			Payload:      payload,
			CreatedAt:    envelope.OccurredAt.UTC(),
		},
	}
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]ports.OutboxMessage, 0, len(s.outbox))
	for _, record := range s.outbox {
		if record.published {
			continue
		}
		items = append(items, record.message)
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
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.outbox[outboxID]
	if !ok {
		return domainerrors.ErrConflict
	}
	record.published = true
	s.outbox[outboxID] = record
	return nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func (s *Store) record(postID string) (*postRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.posts[strings.TrimSpace(postID)]
	return record, ok
}

var _ ports.PostRepository = (*Store)(nil)
var _ ports.OutboxWriter = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
var _ ports.Clock = (*Store)(nil)
var _ ports.IDGenerator = (*Store)(nil)
