package form

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrFormHasSubmissions blocks deletion of a form that has received data.
var ErrFormHasSubmissions = errors.New("form has submissions and cannot be deleted")

// SubmissionCounter reports how many submissions a form has. Implemented by
// the submission repository; kept as a local interface to avoid a domain
// cycle.
type SubmissionCounter interface {
	CountByForm(ctx context.Context, formID uuid.UUID) (int, error)
}

// KeyRecomputer rebuilds stored confirm/unique key values for a form's
// submissions. Implemented by the submission service.
type KeyRecomputer interface {
	RecomputeKeysForForm(ctx context.Context, formID uuid.UUID) (int, error)
}

type Service struct {
	forms      FormRepository
	components ComponentRepository
	options    OptionRepository
	counter    SubmissionCounter
	recomputer KeyRecomputer
	log        zerolog.Logger
}

func NewService(forms FormRepository, components ComponentRepository, options OptionRepository, counter SubmissionCounter, log zerolog.Logger) *Service {
	return &Service{forms: forms, components: components, options: options, counter: counter, log: log}
}

// SetKeyRecomputer attaches the submission-side backfill. Wired after both
// services exist.
func (s *Service) SetKeyRecomputer(r KeyRecomputer) { s.recomputer = r }

// NewAccessToken returns a fresh 128-bit hex capability token.
func NewAccessToken() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func (s *Service) CreateForm(ctx context.Context, f *Form) error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if f.AccessToken == "" {
		f.AccessToken = NewAccessToken()
	}
	return s.forms.Create(ctx, f)
}

func (s *Service) GetForm(ctx context.Context, id uuid.UUID) (*Form, error) {
	return s.forms.GetByID(ctx, id)
}

func (s *Service) GetFormByToken(ctx context.Context, token string) (*Form, error) {
	return s.forms.GetByToken(ctx, token)
}

func (s *Service) ListForms(ctx context.Context, limit, offset int) ([]*Form, int, error) {
	return s.forms.List(ctx, limit, offset)
}

// UpdateForm saves the form and, when any confirm/unique component
// reference changed, triggers the explicit key backfill over the form's
// existing submissions. The backfill runs only here, never on lookup paths.
func (s *Service) UpdateForm(ctx context.Context, f *Form) error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("name is required")
	}
	prev, err := s.forms.GetByID(ctx, f.ID)
	if err != nil {
		return err
	}
	if err := s.validateKeyComponents(ctx, f); err != nil {
		return err
	}
	if err := s.forms.Update(ctx, f); err != nil {
		return err
	}
	if keyRefsChanged(prev, f) && s.recomputer != nil {
		n, err := s.recomputer.RecomputeKeysForForm(ctx, f.ID)
		if err != nil {
			return fmt.Errorf("recompute submission keys: %w", err)
		}
		s.log.Info().Str("form_id", f.ID.String()).Int("count", n).Msg("recomputed submission keys")
	}
	return nil
}

func keyRefsChanged(a, b *Form) bool {
	eq := func(x, y *uuid.UUID) bool {
		if x == nil || y == nil {
			return x == y
		}
		return *x == *y
	}
	return !eq(a.ConfirmComponent1, b.ConfirmComponent1) ||
		!eq(a.ConfirmComponent2, b.ConfirmComponent2) ||
		!eq(a.UniqueComponent1, b.UniqueComponent1) ||
		!eq(a.UniqueComponent2, b.UniqueComponent2)
}

func (s *Service) validateKeyComponents(ctx context.Context, f *Form) error {
	for _, id := range f.KeyComponentIDs() {
		c, err := s.components.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("key component %s: %w", id, err)
		}
		if c.FormID != f.ID {
			return fmt.Errorf("key component %s belongs to another form", c.Key)
		}
	}
	return nil
}

func (s *Service) DeleteForm(ctx context.Context, id uuid.UUID) error {
	n, err := s.counter.CountByForm(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrFormHasSubmissions
	}
	return s.forms.Delete(ctx, id)
}

// RegenerateToken rotates the form's public capability token.
func (s *Service) RegenerateToken(ctx context.Context, id uuid.UUID) (*Form, error) {
	f, err := s.forms.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	f.AccessToken = NewAccessToken()
	if err := s.forms.Update(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// -- Components --

// Wheel configurations above this many values are refused outright.
const maxWheelValues = 3000

func (s *Service) CreateComponent(ctx context.Context, c *Component) error {
	if err := s.validateComponent(ctx, c); err != nil {
		return err
	}
	if existing, err := s.components.GetByKey(ctx, c.FormID, c.Key); err == nil && existing != nil {
		return fmt.Errorf("key %q already used on this form", c.Key)
	}
	return s.components.Create(ctx, c)
}

func (s *Service) UpdateComponent(ctx context.Context, c *Component) error {
	if err := s.validateComponent(ctx, c); err != nil {
		return err
	}
	if existing, err := s.components.GetByKey(ctx, c.FormID, c.Key); err == nil && existing.ID != c.ID {
		return fmt.Errorf("key %q already used on this form", c.Key)
	}
	return s.components.Update(ctx, c)
}

func (s *Service) GetComponent(ctx context.Context, id uuid.UUID) (*Component, error) {
	return s.components.GetByID(ctx, id)
}

func (s *Service) ListComponents(ctx context.Context, formID uuid.UUID) ([]*Component, error) {
	return s.components.ListByForm(ctx, formID)
}

func (s *Service) DeleteComponent(ctx context.Context, id uuid.UUID) error {
	return s.components.Delete(ctx, id)
}

// validateComponent applies every configuration constraint eagerly so a
// misconfigured component can never reach the public form.
func (s *Service) validateComponent(ctx context.Context, c *Component) error {
	if !ValidKey(c.Key) {
		return fmt.Errorf("key %q must start with a letter and contain only letters, digits and underscores", c.Key)
	}
	if !ValidKind(c.Kind) {
		return fmt.Errorf("unsupported component kind %q", c.Kind)
	}
	if c.MinLength > 0 && c.MaxLength > 0 && c.MinLength > c.MaxLength {
		return fmt.Errorf("min length %d exceeds max length %d", c.MinLength, c.MaxLength)
	}
	if c.ValidationMode == ModeCustomRegex && c.CustomRegex != "" {
		if _, err := regexp.Compile(anchored(c.CustomRegex)); err != nil {
			return fmt.Errorf("custom regex does not compile: %w", err)
		}
	}
	switch c.Kind {
	case KindFormattedNumber:
		if err := validatePattern(c.NumberPattern); err != nil {
			return err
		}
	case KindNumberWheel:
		if err := validateWheel(c); err != nil {
			return err
		}
	case KindAgeAuto:
		if c.LinkedDateKey == "" {
			return fmt.Errorf("age component %q needs a linked date component", c.Key)
		}
		if c.AgeMin != nil && c.AgeMax != nil && *c.AgeMin > *c.AgeMax {
			return fmt.Errorf("minimum age %d exceeds maximum age %d", *c.AgeMin, *c.AgeMax)
		}
		for _, a := range []string{c.AgeMinAction, c.AgeMaxAction} {
			if a != "" && a != AgeActionBlock && a != AgeActionWarn {
				return fmt.Errorf("unsupported age action %q", a)
			}
		}
	case KindFileUpload:
		if c.FileMaxMB < 0 {
			return fmt.Errorf("file size limit cannot be negative")
		}
	}
	if err := s.validateVisibility(ctx, c); err != nil {
		return err
	}
	return nil
}

func validatePattern(pattern string) error {
	if strings.Count(pattern, "0") == 0 {
		return fmt.Errorf("number pattern needs at least one 0 placeholder")
	}
	if strings.ContainsAny(pattern, "123456789") {
		return fmt.Errorf("number pattern may only use 0 as the digit placeholder")
	}
	return nil
}

func validateWheel(c *Component) error {
	if c.WheelStep <= 0 {
		return fmt.Errorf("wheel step must be positive")
	}
	if c.WheelMin > c.WheelMax {
		return fmt.Errorf("wheel minimum %d exceeds maximum %d", c.WheelMin, c.WheelMax)
	}
	if (c.WheelMax-c.WheelMin)/c.WheelStep+1 > maxWheelValues {
		return fmt.Errorf("wheel range produces more than %d values", maxWheelValues)
	}
	// A zero default outside the range means "unset"; the wheel starts at
	// its minimum.
	if c.WheelDefault == 0 && (c.WheelMin > 0 || c.WheelMax < 0) {
		return nil
	}
	if c.WheelDefault < c.WheelMin || c.WheelDefault > c.WheelMax {
		return fmt.Errorf("wheel default %d is outside %d..%d", c.WheelDefault, c.WheelMin, c.WheelMax)
	}
	if (c.WheelDefault-c.WheelMin)%c.WheelStep != 0 {
		return fmt.Errorf("wheel default %d does not land on a step", c.WheelDefault)
	}
	return nil
}

func (s *Service) validateVisibility(ctx context.Context, c *Component) error {
	if c.VisibilitySource == "" {
		return nil
	}
	if c.VisibilitySource == c.Key {
		return fmt.Errorf("component %q cannot depend on itself", c.Key)
	}
	if len(c.VisibilityMatch) == 0 {
		return fmt.Errorf("visibility rule on %q needs at least one match value", c.Key)
	}
	if c.VisibilityMode != "" && c.VisibilityMode != VisibilityShowIfMatch && c.VisibilityMode != VisibilityHideIfMatch {
		return fmt.Errorf("unsupported visibility mode %q", c.VisibilityMode)
	}
	if _, err := s.components.GetByKey(ctx, c.FormID, c.VisibilitySource); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("visibility source %q does not exist on this form", c.VisibilitySource)
		}
		return err
	}
	return nil
}

// -- Options --

func (s *Service) ListOptions(ctx context.Context, componentID uuid.UUID) ([]*Option, error) {
	return s.options.ListByComponent(ctx, componentID)
}

// ReplaceOptions validates and swaps a component's option set. Radio and
// select components may carry at most one default; option names must be
// unique; cascading parents must name another option in the same set.
func (s *Service) ReplaceOptions(ctx context.Context, componentID uuid.UUID, opts []*Option) error {
	c, err := s.components.GetByID(ctx, componentID)
	if err != nil {
		return err
	}
	if c.Kind != KindRadio && c.Kind != KindSelect && c.Kind != KindCheckbox {
		return fmt.Errorf("component %q does not take options", c.Key)
	}
	names := make(map[string]bool, len(opts))
	ids := make(map[uuid.UUID]int, len(opts))
	defaults := 0
	for i, o := range opts {
		name := strings.TrimSpace(o.Name)
		if name == "" {
			return fmt.Errorf("option name cannot be empty")
		}
		if names[name] {
			return fmt.Errorf("duplicate option %q", name)
		}
		names[name] = true
		if o.IsDefault {
			defaults++
		}
		if o.ID != uuid.Nil {
			ids[o.ID] = i
		}
	}
	if defaults > 1 && (c.Kind == KindRadio || c.Kind == KindSelect) {
		return fmt.Errorf("only one default option is allowed for %s components", c.Kind)
	}
	for i, o := range opts {
		if o.ParentID == nil {
			continue
		}
		j, ok := ids[*o.ParentID]
		if !ok {
			return fmt.Errorf("option %q references a parent outside this component", o.Name)
		}
		if j == i {
			return fmt.Errorf("option %q cannot be its own parent", o.Name)
		}
	}
	return s.options.ReplaceForComponent(ctx, componentID, opts)
}

// ReplaceOptionsFromText builds the option set from delimited text, one
// sequence slot per distinct entry.
func (s *Service) ReplaceOptionsFromText(ctx context.Context, componentID uuid.UUID, text string, defaultName string) error {
	var opts []*Option
	for i, name := range ParseOptionsText(text) {
		opts = append(opts, &Option{
			Name:      name,
			Sequence:  (i + 1) * 10,
			IsDefault: name == defaultName,
		})
	}
	return s.ReplaceOptions(ctx, componentID, opts)
}

// RootOptions returns the options usable before any parent choice is made.
func RootOptions(opts []*Option) []*Option {
	var out []*Option
	for _, o := range opts {
		if o.ParentID == nil {
			out = append(out, o)
		}
	}
	return out
}

// ChildOptions returns the options unlocked by choosing the given parent.
func ChildOptions(opts []*Option, parentID uuid.UUID) []*Option {
	var out []*Option
	for _, o := range opts {
		if o.ParentID != nil && *o.ParentID == parentID {
			out = append(out, o)
		}
	}
	return out
}
