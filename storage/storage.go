// Package storage persists weeks and tasks.
package storage

import (
	"context"

	"github.com/google/uuid"

	"planner-api/domain"
)

// Store is the entity store used by the services.
type Store interface {
	domain.TaskStorage
	domain.WeekStorage
	Ping(ctx context.Context) error
	Close() error
}

// newID returns a time-ordered id so listings follow creation order.
func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
