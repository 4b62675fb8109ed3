package submission

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no submission matches.
	ErrNotFound = errors.New("submission not found")
	// ErrCodeNotFound means no submission carries the confirmation code.
	ErrCodeNotFound = errors.New("no submission found for this code")
	// ErrCodeConflict means the code matches more than one submission.
	ErrCodeConflict = errors.New("multiple submissions match this code")
)

// KeyValues is the derived key set stored on a submission.
type KeyValues struct {
	ConfirmKey1 string
	ConfirmKey2 string
	UniqueKey1  string
	UniqueKey2  string
}

// PushResult records the outcome of one LIS push attempt.
type PushResult struct {
	State     string
	Message   string
	RequestNo string
	MappingID *uuid.UUID
	At        time.Time
}

type Repository interface {
	// Create persists the header and all lines atomically and assigns
	// the sequential display name.
	Create(ctx context.Context, s *Submission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Submission, error)
	// ListByForm returns a page ordered newest first, without lines.
	ListByForm(ctx context.Context, formID uuid.UUID, limit, offset int) ([]*Submission, int, error)
	// ListWithLines loads full submissions ordered by submit date; a nil
	// ids filter selects the whole form.
	ListWithLines(ctx context.Context, formID *uuid.UUID, ids []uuid.UUID) ([]*Submission, error)
	CountByForm(ctx context.Context, formID uuid.UUID) (int, error)
	CountByClient(ctx context.Context, formID uuid.UUID, clientID string) (int, error)
	// CountByUniqueKey counts submissions holding value in unique key
	// slot 1 or 2.
	CountByUniqueKey(ctx context.Context, formID uuid.UUID, slot int, value string) (int, error)
	// FindByConfirmCode returns up to two submissions whose confirm key 1
	// or 2 equals code, optionally restricted to one form.
	FindByConfirmCode(ctx context.Context, formID *uuid.UUID, code string) ([]*Submission, error)
	UpdateKeys(ctx context.Context, id uuid.UUID, keys KeyValues) error
	SetConfirmed(ctx context.Context, id uuid.UUID, confirmed bool, by string, at *time.Time) error
	SetPushResult(ctx context.Context, id uuid.UUID, result PushResult) error
	Delete(ctx context.Context, id uuid.UUID) error
}
