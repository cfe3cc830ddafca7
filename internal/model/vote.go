package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Choice is one of the two ballot options. The wire value is the
// lowercase letter, matching what the front end pushes onto the queue.
type Choice string

const (
	ChoiceA Choice = "a"
	ChoiceB Choice = "b"
)

func ParseChoice(s string) (Choice, bool) {
	switch strings.ToLower(s) {
	case "a":
		return ChoiceA, true
	case "b":
		return ChoiceB, true
	}
	return "", false
}

// VoteEvent is a single queue entry: one vote cast by one voter. The
// same voter may appear more than once; the store keeps the last write.
type VoteEvent struct {
	VoterID string `json:"voter_id"`
	Vote    Choice `json:"vote"`
}

// VoteRecord is the durable row kept per voter.
type VoteRecord struct {
	VoterID    string
	Vote       Choice
	RecordedAt time.Time
}

// Tally is the aggregate count per option, recomputed from the store on
// every broadcast tick. Its JSON form is the broadcast payload.
type Tally struct {
	A int `json:"a"`
	B int `json:"b"`
}

func (t Tally) Total() int {
	return t.A + t.B
}

// MalformedEventError marks a queue payload that could not be decoded
// into a VoteEvent. It is counted and skipped by the consumer; it never
// affects connection state.
type MalformedEventError struct {
	Payload []byte
	Reason  string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed vote event: %s", e.Reason)
}

// ParseVoteEvent decodes and validates a raw queue entry. Anything
// short of a well-formed JSON object with a non-empty voter_id and a
// known vote value comes back as a *MalformedEventError.
func ParseVoteEvent(payload []byte) (VoteEvent, error) {
	var raw struct {
		VoterID string `json:"voter_id"`
		Vote    string `json:"vote"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return VoteEvent{}, &MalformedEventError{Payload: payload, Reason: err.Error()}
	}
	if raw.VoterID == "" {
		return VoteEvent{}, &MalformedEventError{Payload: payload, Reason: "missing voter_id"}
	}
	choice, ok := ParseChoice(raw.Vote)
	if !ok {
		return VoteEvent{}, &MalformedEventError{Payload: payload, Reason: fmt.Sprintf("unknown vote value %q", raw.Vote)}
	}
	return VoteEvent{VoterID: raw.VoterID, Vote: choice}, nil
}

// Encode serializes the event into the queue wire format.
func (v VoteEvent) Encode() ([]byte, error) {
	return json.Marshal(v)
}
