package lis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = errors.New("not found")

// ErrNoActiveMapping is returned when a form has no active mapping.
var ErrNoActiveMapping = errors.New("no active mapping")

type EndpointRepository interface {
	Create(ctx context.Context, e *Endpoint) error
	GetByID(ctx context.Context, id uuid.UUID) (*Endpoint, error)
	Update(ctx context.Context, e *Endpoint) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Endpoint, int, error)
	// SetSyncResult records the outcome of a metadata sync attempt.
	SetSyncResult(ctx context.Context, id uuid.UUID, at time.Time, message string) error
}

type MetaItemRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*MetaItem, error)
	// ListByEndpoint returns the endpoint's catalog, optionally filtered
	// by item type, ordered by item type then code.
	ListByEndpoint(ctx context.Context, endpointID uuid.UUID, itemType string) ([]*MetaItem, error)
	// Upsert inserts or refreshes the (endpoint, item_type, code) row
	// and marks it active.
	Upsert(ctx context.Context, item *MetaItem) error
	// DeactivateMissing marks items of the given type inactive when
	// their code is absent from seen.
	DeactivateMissing(ctx context.Context, endpointID uuid.UUID, itemType string, seen []string) (int, error)
}

type MappingRepository interface {
	// Create stores the mapping with its lines, combos, and specimens.
	Create(ctx context.Context, m *Mapping) error
	// GetByID loads the mapping with lines, combos, and specimens.
	GetByID(ctx context.Context, id uuid.UUID) (*Mapping, error)
	// GetActiveByForm returns the form's single active mapping, or
	// ErrNoActiveMapping.
	GetActiveByForm(ctx context.Context, formID uuid.UUID) (*Mapping, error)
	Update(ctx context.Context, m *Mapping) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Mapping, int, error)
}
