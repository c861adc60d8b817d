package queries

import (
	"context"
	"strings"
	"time"

	application "gymcore/contexts/community/vote-ledger/application"
	"gymcore/contexts/community/vote-ledger/domain/entities"
	domainerrors "gymcore/contexts/community/vote-ledger/domain/errors"
	"gymcore/contexts/community/vote-ledger/ports"
)

type PostView struct {
	Post       entities.Post
	Tally      entities.Tally
	VoterCount int
	// MyVote is the viewer's current direction, empty when the viewer has not
	// voted or is anonymous.
	MyVote entities.Direction
}

type PostQueryUseCase struct {
	Posts        ports.PostRepository
	StoreTimeout time.Duration
}

func (uc PostQueryUseCase) GetPost(ctx context.Context, postID string, viewerID string) (PostView, error) {
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return PostView{}, domainerrors.ErrInvalidPostInput
	}
	storeCtx, cancel := application.StoreContext(ctx, uc.StoreTimeout)
	defer cancel()
	post, err := uc.Posts.GetPost(storeCtx, postID)
	if err != nil {
		return PostView{}, application.ClassifyStoreError(err)
	}
	view := PostView{
		Post:       post,
		Tally:      post.Tally(),
		VoterCount: len(post.Voters),
	}
	if viewer := strings.TrimSpace(viewerID); viewer != "" {
		view.MyVote = post.Voters[viewer]
	}
	return view, nil
}
