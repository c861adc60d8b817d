package entities

import (
	"testing"
	"time"
)

func TestPostApplyVoteTransitions(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	post := Post{PostID: "post-1"}

	steps := []struct {
		voter     string
		direction Direction
		outcome   VoteOutcome
		up, down  int64
	}{
		{"a@gym.test", DirectionUp, VoteApplied, 1, 0},
		{"a@gym.test", DirectionUp, VoteUnchanged, 1, 0},
		{"a@gym.test", DirectionDown, VoteFlipped, 0, 1},
		{"b@gym.test", DirectionDown, VoteApplied, 0, 2},
		{"a@gym.test", DirectionDown, VoteUnchanged, 0, 2},
	}
	for i, step := range steps {
		outcome := post.ApplyVote(step.voter, step.direction, at)
		if outcome != step.outcome {
			t.Fatalf("step %d: expected outcome %s, got %s", i, step.outcome, outcome)
		}
		if post.Upvotes != step.up || post.Downvotes != step.down {
			t.Fatalf("step %d: expected tally {%d,%d}, got {%d,%d}", i, step.up, step.down, post.Upvotes, post.Downvotes)
		}
		if !post.Consistent() {
			t.Fatalf("step %d: counters drifted from voter set: %+v", i, post)
		}
	}
}

func TestPostCloneDoesNotShareVoters(t *testing.T) {
	post := Post{PostID: "post-1"}
	post.ApplyVote("a@gym.test", DirectionUp, time.Now())

	clone := post.Clone()
	clone.Voters["b@gym.test"] = DirectionDown
	if _, ok := post.Voters["b@gym.test"]; ok {
		t.Fatalf("expected clone to own its voter map")
	}
}

func TestDirectionValidation(t *testing.T) {
	if Direction("sideways").Valid() {
		t.Fatalf("expected unknown direction to be invalid")
	}
	if DirectionUp.Opposite() != DirectionDown || DirectionDown.Opposite() != DirectionUp {
		t.Fatalf("unexpected opposite mapping")
	}
}
