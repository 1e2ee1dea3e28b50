// Package models defines the records shared by the session, storage and API layers.
package models

import "time"

// Attempt is the stored outcome of one finished upload attempt.
// Neither the original file nor the extracted text is kept.
type Attempt struct {
	ID           string    `json:"id" db:"id"`
	FileName     string    `json:"file_name" db:"file_name"`
	Kind         string    `json:"kind" db:"kind"`
	Status       string    `json:"status" db:"status"`
	ErrorMessage string    `json:"error_message,omitempty" db:"error_message"`
	TextChars    int       `json:"text_chars" db:"text_chars"`
	Fingerprint  string    `json:"fingerprint,omitempty" db:"fingerprint"`
	StartedAt    time.Time `json:"started_at" db:"started_at"`
	FinishedAt   time.Time `json:"finished_at" db:"finished_at"`
}

// Duration returns how long the attempt ran.
func (a *Attempt) Duration() time.Duration {
	if a.FinishedAt.IsZero() || a.StartedAt.IsZero() {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}
