package models

import "fmt"

// AttemptQuery selects attempts from history, newest first.
type AttemptQuery struct {
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
	Status string `json:"status,omitempty"` // "succeeded" or "failed"; empty for both

	// Fingerprint restricts results to attempts for the same file content.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Validate normalizes limit and offset and rejects unknown status filters.
func (q *AttemptQuery) Validate() error {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	switch q.Status {
	case "", "succeeded", "failed":
		return nil
	default:
		return fmt.Errorf("invalid status filter %q", q.Status)
	}
}
