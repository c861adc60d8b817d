package postgresadapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gymcore/contexts/community/vote-ledger/domain/entities"
	domainerrors "gymcore/contexts/community/vote-ledger/domain/errors"
	"gymcore/internal/platform/db/pgtest"
)

func TestPostgresApplyVoteIntegration(t *testing.T) {
	repo := NewRepository(pgtest.Start(t), nil)
	ctx := context.Background()
	if err := repo.AutoMigrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	now := time.Now().UTC()
	if err := repo.CreatePost(ctx, entities.Post{PostID: "post-1", AuthorID: "author@gym.test", Title: "Cutting tips", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create post: %v", err)
	}

	applied, err := repo.ApplyVote(ctx, "post-1", "a@gym.test", entities.DirectionUp, now)
	if err != nil || applied.Outcome != entities.VoteApplied || applied.Tally.Upvotes != 1 {
		t.Fatalf("expected applied {1,0}, got %+v err=%v", applied, err)
	}
	unchanged, err := repo.ApplyVote(ctx, "post-1", "a@gym.test", entities.DirectionUp, now)
	if err != nil || unchanged.Outcome != entities.VoteUnchanged {
		t.Fatalf("expected unchanged, got %+v err=%v", unchanged, err)
	}
	flipped, err := repo.ApplyVote(ctx, "post-1", "a@gym.test", entities.DirectionDown, now)
	if err != nil || flipped.Outcome != entities.VoteFlipped || flipped.Tally != (entities.Tally{Downvotes: 1}) {
		t.Fatalf("expected flipped {0,1}, got %+v err=%v", flipped, err)
	}
	if _, err := repo.ApplyVote(ctx, "missing", "a@gym.test", entities.DirectionUp, now); !errors.Is(err, domainerrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := repo.ApplyVote(ctx, "post-1", fmt.Sprintf("member-%d@gym.test", i), entities.DirectionUp, time.Now().UTC()); err != nil {
				t.Errorf("concurrent vote %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	post, err := repo.GetPost(ctx, "post-1")
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	if post.Upvotes != 16 || post.Downvotes != 1 || !post.Consistent() {
		t.Fatalf("expected consistent {16,1}, got {%d,%d}", post.Upvotes, post.Downvotes)
	}
}
