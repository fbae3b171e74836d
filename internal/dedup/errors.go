package dedup

import (
	"fmt"

	"github.com/google/uuid"
)

// AmbiguousMergeError describes a near-duplicate whose similarity fell
// inside the uncertainty band around the threshold. The offer is kept
// separate; the error is logged and counted, never returned.
type AmbiguousMergeError struct {
	Title       string
	CandidateID uuid.UUID
	Similarity  float64
	Threshold   float64
}

func (e *AmbiguousMergeError) Error() string {
	return fmt.Sprintf("ambiguous merge of %q with offer %s: similarity %.3f near threshold %.3f",
		e.Title, e.CandidateID, e.Similarity, e.Threshold)
}

// PersistenceError is returned when the decision for one offer could not be
// saved. The canonical set is left as it was before the decision.
type PersistenceError struct {
	Op      string
	OfferID uuid.UUID
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s offer %s: %v", e.Op, e.OfferID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
