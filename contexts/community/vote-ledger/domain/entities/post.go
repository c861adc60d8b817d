package entities

import "time"

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// Opposite returns the other direction. It is only meaningful for valid
// directions.
func (d Direction) Opposite() Direction {
	if d == DirectionUp {
		return DirectionDown
	}
	return DirectionUp
}

type VoteOutcome string

const (
	VoteApplied   VoteOutcome = "applied"
	VoteUnchanged VoteOutcome = "unchanged"
	VoteFlipped   VoteOutcome = "flipped"
)

type Tally struct {
	Upvotes   int64
	Downvotes int64
}

// Post is a forum post together with its voter set. Upvotes and Downvotes are
// denormalized counts of Voters and must always agree with it.
type Post struct {
	PostID    string
	AuthorID  string
	Title     string
	Body      string
	Upvotes   int64
	Downvotes int64
	Voters    map[string]Direction
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p Post) Tally() Tally {
	return Tally{Upvotes: p.Upvotes, Downvotes: p.Downvotes}
}

// ApplyVote mutates the post for one voter and reports what happened. Callers
// must hold whatever lock or transaction makes the read-modify-write atomic.
func (p *Post) ApplyVote(voterID string, direction Direction, at time.Time) VoteOutcome {
	if p.Voters == nil {
		p.Voters = make(map[string]Direction)
	}
	previous, found := p.Voters[voterID]
	switch {
	case !found:
		p.Voters[voterID] = direction
		p.bump(direction, 1)
		p.UpdatedAt = at
		return VoteApplied
	case previous == direction:
		return VoteUnchanged
	default:
		p.Voters[voterID] = direction
		p.bump(previous, -1)
		p.bump(direction, 1)
		p.UpdatedAt = at
		return VoteFlipped
	}
}

// Consistent reports whether the counters match the voter set.
func (p Post) Consistent() bool {
	var up, down int64
	for _, direction := range p.Voters {
		switch direction {
		case DirectionUp:
			up++
		case DirectionDown:
			down++
		}
	}
	return up == p.Upvotes && down == p.Downvotes
}

func (p *Post) bump(direction Direction, delta int64) {
	if direction == DirectionUp {
		p.Upvotes += delta
		return
	}
	p.Downvotes += delta
}

// Clone returns a deep copy so stores never hand out their internal map.
func (p Post) Clone() Post {
	voters := make(map[string]Direction, len(p.Voters))
	for voter, direction := range p.Voters {
		voters[voter] = direction
	}
	p.Voters = voters
	return p
}
