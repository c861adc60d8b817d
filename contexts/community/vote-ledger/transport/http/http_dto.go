package http

import "time"

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CreatePostRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type ApplyVoteRequest struct {
	Direction string `json:"direction"`
}

type TallyResponse struct {
	Upvotes   int64 `json:"upvotes"`
	Downvotes int64 `json:"downvotes"`
}

type ApplyVoteResponse struct {
	PostID    string        `json:"post_id"`
	Direction string        `json:"direction"`
	Outcome   string        `json:"outcome"`
	Tally     TallyResponse `json:"tally"`
}

type PostResponse struct {
	PostID     string        `json:"post_id"`
	AuthorID   string        `json:"author_id"`
	Title      string        `json:"title"`
	Body       string        `json:"body"`
	Tally      TallyResponse `json:"tally"`
	VoterCount int           `json:"voter_count"`
	MyVote     string        `json:"my_vote,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}
