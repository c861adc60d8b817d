// Package voteledger implements the forum vote ledger inside the community
// context.
//
// The module owns each post's voter set and its up/down tally. Every vote is a
// single conditional update on one post, so a voter holds at most one vote per
// post and the counters always equal the voter set. Events about created posts
// and applied votes leave through an outbox relayed by a worker.
package voteledger
