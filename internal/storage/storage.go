// Package storage defines the persistence interface for upload attempt history.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/cvpost/internal/models"
)

// ErrNotFound is returned when an attempt ID is unknown.
var ErrNotFound = errors.New("attempt not found")

// Storage defines attempt history operations.
type Storage interface {
	RecordAttempt(ctx context.Context, a *models.Attempt) error
	GetAttempt(ctx context.Context, id string) (*models.Attempt, error)
	ListAttempts(ctx context.Context, q *models.AttemptQuery) ([]*models.Attempt, error)
	CountAttempts(ctx context.Context, status string) (int64, error)

	Close() error
}
