package core

import "fmt"

// DocumentState is the ingestion state of a document.
type DocumentState string

const (
	StatePending   DocumentState = "pending"
	StateChunking  DocumentState = "chunking"
	StateEmbedding DocumentState = "embedding"
	StateIndexed   DocumentState = "indexed"
	StateFailed    DocumentState = "failed"
)

var transitions = map[DocumentState][]DocumentState{
	StatePending:   {StateChunking, StateFailed},
	StateChunking:  {StateEmbedding, StateFailed},
	StateEmbedding: {StateIndexed, StateFailed},
	StateIndexed:   {StatePending, StateFailed},
	StateFailed:    {StatePending},
}

// CanTransition reports whether moving from s to next is allowed.
// Terminal states only go back to Pending when a new ingestion starts.
func (s DocumentState) CanTransition(next DocumentState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves rec to next or returns ErrInvalidTransition.
func (rec *DocumentRecord) Transition(next DocumentState) error {
	if rec.State == "" && next == StatePending {
		rec.State = next
		return nil
	}
	if !rec.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.State, next)
	}
	rec.State = next
	return nil
}

// Valid reports whether s is a known state.
func (s DocumentState) Valid() bool {
	_, ok := transitions[s]
	return ok
}
