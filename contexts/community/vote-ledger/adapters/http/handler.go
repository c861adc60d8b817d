package httpadapter

import (
	"context"
	"log/slog"

	"gymcore/contexts/community/vote-ledger/application/commands"
	"gymcore/contexts/community/vote-ledger/application/queries"
	"gymcore/contexts/community/vote-ledger/domain/entities"
	httptransport "gymcore/contexts/community/vote-ledger/transport/http"
)

type Handler struct {
	Votes  commands.VoteUseCase
	Posts  queries.PostQueryUseCase
	Logger *slog.Logger
}

// @Summary Create forum post
// @Description Creates a post owned by the caller with an empty tally.
// @Tags vote-ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param X-User-Id header string false "Caller id when header identity is enabled"
// @Param request body httptransport.CreatePostRequest true "Post"
// @Success 201 {object} httptransport.PostResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 401 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /forum/posts [post]
func (h Handler) CreatePostHandler(
	ctx context.Context,
	authorID string,
	req httptransport.CreatePostRequest,
) (httptransport.PostResponse, error) {
	post, err := h.Votes.CreatePost(ctx, commands.CreatePostCommand{
		AuthorID: authorID,
		Title:    req.Title,
		Body:     req.Body,
	})
	if err != nil {
		return httptransport.PostResponse{}, err
	}
	return mapPost(queries.PostView{Post: post, Tally: post.Tally()}), nil
}

// @Summary Vote on a post
// @Description Applies an up or down vote; repeating the current vote is a no-op and the opposite vote flips it.
// @Tags vote-ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param post_id path string true "Post id"
// @Param request body httptransport.ApplyVoteRequest true "Vote direction"
// @Success 200 {object} httptransport.ApplyVoteResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 401 {object} httptransport.ErrorResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Failure 503 {object} httptransport.ErrorResponse
// @Router /forum/posts/{post_id}/votes [post]
func (h Handler) ApplyVoteHandler(
	ctx context.Context,
	voterID string,
	postID string,
	req httptransport.ApplyVoteRequest,
) (httptransport.ApplyVoteResponse, error) {
	result, err := h.Votes.ApplyVote(ctx, commands.ApplyVoteCommand{
		PostID:    postID,
		VoterID:   voterID,
		Direction: entities.Direction(req.Direction),
	})
	if err != nil {
		return httptransport.ApplyVoteResponse{}, err
	}
	return httptransport.ApplyVoteResponse{
		PostID:    result.PostID,
		Direction: string(result.Direction),
		Outcome:   string(result.Outcome),
		Tally:     mapTally(result.Tally),
	}, nil
}

// @Summary Get forum post
// @Description Returns a post with its tally and the caller's own vote when identified.
// @Tags vote-ledger
// @Accept json
// @Produce json
// @Param post_id path string true "Post id"
// @Success 200 {object} httptransport.PostResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /forum/posts/{post_id} [get]
func (h Handler) GetPostHandler(ctx context.Context, viewerID string, postID string) (httptransport.PostResponse, error) {
	view, err := h.Posts.GetPost(ctx, postID, viewerID)
	if err != nil {
		return httptransport.PostResponse{}, err
	}
	return mapPost(view), nil
}

func mapPost(view queries.PostView) httptransport.PostResponse {
	return httptransport.PostResponse{
		PostID:     view.Post.PostID,
		AuthorID:   view.Post.AuthorID,
		Title:      view.Post.Title,
		Body:       view.Post.Body,
		Tally:      mapTally(view.Tally),
		VoterCount: view.VoterCount,
		MyVote:     string(view.MyVote),
		CreatedAt:  view.Post.CreatedAt,
		UpdatedAt:  view.Post.UpdatedAt,
	}
}

func mapTally(tally entities.Tally) httptransport.TallyResponse {
	return httptransport.TallyResponse{
		Upvotes:   tally.Upvotes,
		Downvotes: tally.Downvotes,
	}
}
