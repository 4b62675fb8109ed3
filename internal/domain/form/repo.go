package form

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = errors.New("not found")

type FormRepository interface {
	Create(ctx context.Context, f *Form) error
	GetByID(ctx context.Context, id uuid.UUID) (*Form, error)
	GetByToken(ctx context.Context, token string) (*Form, error)
	Update(ctx context.Context, f *Form) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Form, int, error)
}

type ComponentRepository interface {
	Create(ctx context.Context, c *Component) error
	GetByID(ctx context.Context, id uuid.UUID) (*Component, error)
	GetByKey(ctx context.Context, formID uuid.UUID, key string) (*Component, error)
	Update(ctx context.Context, c *Component) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListByForm returns the form's components ordered by sequence.
	ListByForm(ctx context.Context, formID uuid.UUID) ([]*Component, error)
}

type OptionRepository interface {
	ListByComponent(ctx context.Context, componentID uuid.UUID) ([]*Option, error)
	ListByForm(ctx context.Context, formID uuid.UUID) ([]*Option, error)
	// ReplaceForComponent swaps the component's option set atomically.
	ReplaceForComponent(ctx context.Context, componentID uuid.UUID, opts []*Option) error
}
