package submission

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mform/mform/internal/domain/form"
)

// Service owns the submission lifecycle: intake, key backfill, the
// confirmation state machine, and exports.
type Service struct {
	subs       Repository
	forms      form.FormRepository
	components form.ComponentRepository
	assembler  *Assembler
	stash      *PrefillStash
	log        zerolog.Logger
}

func NewService(subs Repository, forms form.FormRepository, components form.ComponentRepository, assembler *Assembler, log zerolog.Logger) *Service {
	return &Service{
		subs:       subs,
		forms:      forms,
		components: components,
		assembler:  assembler,
		stash:      NewPrefillStash(30*time.Minute, 30),
		log:        log,
	}
}

// Stash exposes the duplicate-recovery prefill store to the handler.
func (s *Service) Stash() *PrefillStash { return s.stash }

// Submit runs the full intake pipeline and persists the result. Typed
// failures (RepeatFailure, ValidationFailure, PolicyBlockFailure,
// DuplicateFailure) come back as the error; warnings accompany a success.
//
// The duplicate check and the insert are not serialized against
// concurrent identical submissions: two clients racing the same unique
// value can both pass the check. The collision surfaces operationally
// (duplicate keys in the list view), not as corruption, and is accepted.
func (s *Service) Submit(ctx context.Context, f *form.Form, values Values, files FileSource, clientID, userAgent string) (*Submission, []string, error) {
	if !f.AllowRepeatSubmit && clientID != "" {
		n, err := s.subs.CountByClient(ctx, f.ID, clientID)
		if err != nil {
			return nil, nil, err
		}
		if n > 0 {
			return nil, nil, &RepeatFailure{}
		}
	}

	components, err := s.components.ListByForm(ctx, f.ID)
	if err != nil {
		return nil, nil, err
	}

	assembled, err := s.assembler.Assemble(ctx, f, components, values, files)
	if err != nil {
		return nil, nil, err
	}

	if fail, err := s.checkDuplicates(ctx, f, components, assembled); err != nil {
		return nil, nil, err
	} else if fail != nil {
		return nil, nil, fail
	}

	answerJSON, err := json.Marshal(assembled.Answers)
	if err != nil {
		return nil, nil, err
	}

	env := ParseClientEnv(userAgent)
	sub := &Submission{
		FormID:           f.ID,
		ClientIdentifier: clientID,
		AnswerJSON:       string(answerJSON),
		ConfirmKey1:      assembled.ConfirmKey1,
		ConfirmKey2:      assembled.ConfirmKey2,
		UniqueKey1:       assembled.UniqueKey1,
		UniqueKey2:       assembled.UniqueKey2,
		DeviceType:       env.DeviceType,
		OSName:           env.OSName,
		BrowserName:      env.BrowserName,
		BrowserVersion:   env.BrowserVersion,
		Lines:            assembled.Lines,
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("form_id", f.ID.String()).
		Str("submission", sub.Name).
		Str("device", env.DeviceType).
		Msg("submission created")
	return sub, assembled.Warnings, nil
}

func (s *Service) checkDuplicates(ctx context.Context, f *form.Form, components []*form.Component, assembled *Assembled) (*DuplicateFailure, error) {
	byID := make(map[uuid.UUID]*form.Component, len(components))
	for _, c := range components {
		byID[c.ID] = c
	}

	var fields []DuplicateField
	check := func(componentID *uuid.UUID, slot int, value string) error {
		if componentID == nil || value == "" {
			return nil
		}
		n, err := s.subs.CountByUniqueKey(ctx, f.ID, slot, value)
		if err != nil {
			return err
		}
		if n > 0 {
			name := componentID.String()
			if c, ok := byID[*componentID]; ok {
				if c.Label != "" {
					name = c.Label
				} else {
					name = c.Key
				}
			}
			fields = append(fields, DuplicateField{Name: name, Value: value})
		}
		return nil
	}

	if err := check(f.UniqueComponent1, 1, assembled.UniqueKey1); err != nil {
		return nil, err
	}
	if err := check(f.UniqueComponent2, 2, assembled.UniqueKey2); err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		return &DuplicateFailure{Fields: fields}, nil
	}
	return nil, nil
}

// CountByForm satisfies the form service's submission counter.
func (s *Service) CountByForm(ctx context.Context, formID uuid.UUID) (int, error) {
	return s.subs.CountByForm(ctx, formID)
}

// RecomputeKeysForForm rebuilds all four stored key values for every
// submission of the form from the persisted answer snapshots. It runs
// only from the form-save path when key component references change,
// never from the confirmation hot path.
func (s *Service) RecomputeKeysForForm(ctx context.Context, formID uuid.UUID) (int, error) {
	f, err := s.forms.GetByID(ctx, formID)
	if err != nil {
		return 0, err
	}
	components, err := s.components.ListByForm(ctx, formID)
	if err != nil {
		return 0, err
	}
	keyOf := make(map[uuid.UUID]string, len(components))
	for _, c := range components {
		keyOf[c.ID] = c.Key
	}
	resolve := func(ref *uuid.UUID, answers map[string]interface{}) string {
		if ref == nil {
			return ""
		}
		return DeriveKey(answers, keyOf[*ref])
	}

	subs, err := s.subs.ListWithLines(ctx, &formID, nil)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, sub := range subs {
		var answers map[string]interface{}
		if err := json.Unmarshal([]byte(sub.AnswerJSON), &answers); err != nil {
			answers = map[string]interface{}{}
		}
		keys := KeyValues{
			ConfirmKey1: resolve(f.ConfirmComponent1, answers),
			ConfirmKey2: resolve(f.ConfirmComponent2, answers),
			UniqueKey1:  resolve(f.UniqueComponent1, answers),
			UniqueKey2:  resolve(f.UniqueComponent2, answers),
		}
		if err := s.subs.UpdateKeys(ctx, sub.ID, keys); err != nil {
			return updated, err
		}
		updated++
	}
	s.log.Info().Str("form_id", formID.String()).Int("updated", updated).Msg("submission keys recomputed")
	return updated, nil
}

// FindByCode locates the single submission whose confirm key matches
// code. Zero matches yield ErrCodeNotFound and two or more
// ErrCodeConflict; confirmation must never guess.
func (s *Service) FindByCode(ctx context.Context, formID *uuid.UUID, code string) (*Submission, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrCodeNotFound
	}
	matches, err := s.subs.FindByConfirmCode(ctx, formID, code)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, ErrCodeNotFound
	case 1:
		return matches[0], nil
	default:
		return nil, ErrCodeConflict
	}
}

// ConfirmByCode resolves the code and marks the submission confirmed.
func (s *Service) ConfirmByCode(ctx context.Context, formID *uuid.UUID, code, by string) (*Submission, error) {
	sub, err := s.FindByCode(ctx, formID, code)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if err := s.subs.SetConfirmed(ctx, sub.ID, true, by, &now); err != nil {
		return nil, err
	}
	sub.IsConfirmed = true
	sub.ConfirmedAt = &now
	sub.ConfirmedBy = by
	return sub, nil
}

// UnconfirmByCode resolves the code and clears the confirmation state.
func (s *Service) UnconfirmByCode(ctx context.Context, formID *uuid.UUID, code string) (*Submission, error) {
	sub, err := s.FindByCode(ctx, formID, code)
	if err != nil {
		return nil, err
	}
	if err := s.subs.SetConfirmed(ctx, sub.ID, false, "", nil); err != nil {
		return nil, err
	}
	sub.IsConfirmed = false
	sub.ConfirmedAt = nil
	sub.ConfirmedBy = ""
	return sub, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Submission, error) {
	return s.subs.GetByID(ctx, id)
}

func (s *Service) ListByForm(ctx context.Context, formID uuid.UUID, limit, offset int) ([]*Submission, int, error) {
	return s.subs.ListByForm(ctx, formID, limit, offset)
}

// ListWithLines loads submissions with their lines for export. Exactly
// one of formID and ids is set.
func (s *Service) ListWithLines(ctx context.Context, formID *uuid.UUID, ids []uuid.UUID) ([]*Submission, error) {
	return s.subs.ListWithLines(ctx, formID, ids)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.subs.Delete(ctx, id)
}
