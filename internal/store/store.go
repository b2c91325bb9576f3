// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/synthtutor/internal/domain"
)

// DefaultResumeMaxAge is the freshness window of a resume record.
const DefaultResumeMaxAge = 24 * time.Hour

// ErrNotFound is returned when no fresh record exists.
var ErrNotFound = errors.New("record not found")

// Repository defines the interface for persisting resumable-session records.
type Repository interface {
	// SaveResume creates or replaces the resume record for a device.
	SaveResume(ctx context.Context, userID string, rec domain.ResponseRecord) error

	// LoadResume returns the device's record if it was saved within maxAge.
	// Missing and stale records both yield ErrNotFound.
	LoadResume(ctx context.Context, userID string, maxAge time.Duration) (domain.ResponseRecord, error)

	// PurgeStaleResumes deletes records older than maxAge.
	PurgeStaleResumes(ctx context.Context, maxAge time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// ResumePersister saves completed onboarding responses for one device.
type ResumePersister struct {
	repo   Repository
	userID string
}

// NewResumePersister binds repo to a device id.
func NewResumePersister(repo Repository, userID string) *ResumePersister {
	return &ResumePersister{repo: repo, userID: userID}
}

// Persist stores rec as the device's resume record.
func (p *ResumePersister) Persist(ctx context.Context, rec domain.ResponseRecord) error {
	return p.repo.SaveResume(ctx, p.userID, rec)
}
