package form

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// -- Mock Repositories --

type mockFormRepo struct {
	forms map[uuid.UUID]*Form
}

func newMockFormRepo() *mockFormRepo {
	return &mockFormRepo{forms: make(map[uuid.UUID]*Form)}
}

func (m *mockFormRepo) Create(_ context.Context, f *Form) error {
	f.ID = uuid.New()
	f.CreatedAt = time.Now()
	f.UpdatedAt = time.Now()
	cp := *f
	m.forms[f.ID] = &cp
	return nil
}

func (m *mockFormRepo) GetByID(_ context.Context, id uuid.UUID) (*Form, error) {
	f, ok := m.forms[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *mockFormRepo) GetByToken(_ context.Context, token string) (*Form, error) {
	for _, f := range m.forms {
		if f.AccessToken == token {
			cp := *f
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockFormRepo) Update(_ context.Context, f *Form) error {
	if _, ok := m.forms[f.ID]; !ok {
		return ErrNotFound
	}
	cp := *f
	m.forms[f.ID] = &cp
	return nil
}

func (m *mockFormRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.forms, id)
	return nil
}

func (m *mockFormRepo) List(_ context.Context, limit, offset int) ([]*Form, int, error) {
	var out []*Form
	for _, f := range m.forms {
		out = append(out, f)
	}
	return out, len(out), nil
}

type mockComponentRepo struct {
	components map[uuid.UUID]*Component
}

func newMockComponentRepo() *mockComponentRepo {
	return &mockComponentRepo{components: make(map[uuid.UUID]*Component)}
}

func (m *mockComponentRepo) Create(_ context.Context, c *Component) error {
	c.ID = uuid.New()
	m.components[c.ID] = c
	return nil
}

func (m *mockComponentRepo) GetByID(_ context.Context, id uuid.UUID) (*Component, error) {
	c, ok := m.components[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *mockComponentRepo) GetByKey(_ context.Context, formID uuid.UUID, key string) (*Component, error) {
	for _, c := range m.components {
		if c.FormID == formID && c.Key == key {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockComponentRepo) Update(_ context.Context, c *Component) error {
	m.components[c.ID] = c
	return nil
}

func (m *mockComponentRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.components, id)
	return nil
}

func (m *mockComponentRepo) ListByForm(_ context.Context, formID uuid.UUID) ([]*Component, error) {
	var out []*Component
	for _, c := range m.components {
		if c.FormID == formID {
			out = append(out, c)
		}
	}
	return out, nil
}

type mockOptionRepo struct {
	options map[uuid.UUID][]*Option
}

func newMockOptionRepo() *mockOptionRepo {
	return &mockOptionRepo{options: make(map[uuid.UUID][]*Option)}
}

func (m *mockOptionRepo) ListByComponent(_ context.Context, componentID uuid.UUID) ([]*Option, error) {
	return m.options[componentID], nil
}

func (m *mockOptionRepo) ListByForm(_ context.Context, _ uuid.UUID) ([]*Option, error) {
	var out []*Option
	for _, opts := range m.options {
		out = append(out, opts...)
	}
	return out, nil
}

func (m *mockOptionRepo) ReplaceForComponent(_ context.Context, componentID uuid.UUID, opts []*Option) error {
	for _, o := range opts {
		if o.ID == uuid.Nil {
			o.ID = uuid.New()
		}
		o.ComponentID = componentID
	}
	m.options[componentID] = opts
	return nil
}

type mockCounter struct{ counts map[uuid.UUID]int }

func (m *mockCounter) CountByForm(_ context.Context, formID uuid.UUID) (int, error) {
	return m.counts[formID], nil
}

type mockRecomputer struct{ calls []uuid.UUID }

func (m *mockRecomputer) RecomputeKeysForForm(_ context.Context, formID uuid.UUID) (int, error) {
	m.calls = append(m.calls, formID)
	return 0, nil
}

func newTestService() (*Service, *mockFormRepo, *mockComponentRepo, *mockCounter, *mockRecomputer) {
	forms := newMockFormRepo()
	components := newMockComponentRepo()
	counter := &mockCounter{counts: make(map[uuid.UUID]int)}
	rec := &mockRecomputer{}
	svc := NewService(forms, components, newMockOptionRepo(), counter, zerolog.Nop())
	svc.SetKeyRecomputer(rec)
	return svc, forms, components, counter, rec
}

// -- Tests --

func TestCreateFormGeneratesToken(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	f := &Form{Name: "Intake"}
	if err := svc.CreateForm(context.Background(), f); err != nil {
		t.Fatal(err)
	}
	if len(f.AccessToken) != 32 {
		t.Fatalf("access token should be 32 hex chars, got %q", f.AccessToken)
	}
	if err := svc.CreateForm(context.Background(), &Form{Name: "  "}); err == nil {
		t.Fatal("blank name must be rejected")
	}
}

func TestDeleteFormBlockedBySubmissions(t *testing.T) {
	svc, _, _, counter, _ := newTestService()
	f := &Form{Name: "Intake"}
	if err := svc.CreateForm(context.Background(), f); err != nil {
		t.Fatal(err)
	}
	counter.counts[f.ID] = 3
	if err := svc.DeleteForm(context.Background(), f.ID); err != ErrFormHasSubmissions {
		t.Fatalf("expected ErrFormHasSubmissions, got %v", err)
	}
	counter.counts[f.ID] = 0
	if err := svc.DeleteForm(context.Background(), f.ID); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateFormTriggersRecompute(t *testing.T) {
	svc, _, components, _, rec := newTestService()
	ctx := context.Background()
	f := &Form{Name: "Intake"}
	if err := svc.CreateForm(ctx, f); err != nil {
		t.Fatal(err)
	}
	comp := &Component{FormID: f.ID, Key: "code", Label: "Code", Kind: KindInput}
	if err := svc.CreateComponent(ctx, comp); err != nil {
		t.Fatal(err)
	}

	// Save without touching key refs: no backfill.
	f.Description = "updated"
	if err := svc.UpdateForm(ctx, f); err != nil {
		t.Fatal(err)
	}
	if len(rec.calls) != 0 {
		t.Fatalf("no key change, but backfill ran %d times", len(rec.calls))
	}

	f.ConfirmComponent1 = &comp.ID
	if err := svc.UpdateForm(ctx, f); err != nil {
		t.Fatal(err)
	}
	if len(rec.calls) != 1 || rec.calls[0] != f.ID {
		t.Fatalf("key change must backfill once, calls = %v", rec.calls)
	}

	// Key component from another form is refused.
	other := &Component{FormID: uuid.New(), Key: "x", Label: "X", Kind: KindInput}
	_ = components.Create(ctx, other)
	f.ConfirmComponent2 = &other.ID
	if err := svc.UpdateForm(ctx, f); err == nil {
		t.Fatal("cross-form key component must be rejected")
	}
}

func TestValidateComponent(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	ctx := context.Background()
	f := &Form{Name: "Intake"}
	if err := svc.CreateForm(ctx, f); err != nil {
		t.Fatal(err)
	}

	base := func() *Component {
		return &Component{FormID: f.ID, Key: "field1", Label: "Field", Kind: KindInput}
	}

	if err := svc.CreateComponent(ctx, base()); err != nil {
		t.Fatal(err)
	}
	// Duplicate key on the same form.
	if err := svc.CreateComponent(ctx, base()); err == nil {
		t.Fatal("duplicate key must be rejected")
	}

	bad := []*Component{
		{FormID: f.ID, Key: "1bad", Kind: KindInput},
		{FormID: f.ID, Key: "k2", Kind: "mystery"},
		{FormID: f.ID, Key: "k3", Kind: KindInput, MinLength: 5, MaxLength: 2},
		{FormID: f.ID, Key: "k4", Kind: KindInput, ValidationMode: ModeCustomRegex, CustomRegex: "("},
		{FormID: f.ID, Key: "k5", Kind: KindFormattedNumber, NumberPattern: "---"},
		{FormID: f.ID, Key: "k6", Kind: KindFormattedNumber, NumberPattern: "000-1"},
		{FormID: f.ID, Key: "k7", Kind: KindNumberWheel, WheelMin: 0, WheelMax: 10, WheelStep: 0},
		{FormID: f.ID, Key: "k8", Kind: KindNumberWheel, WheelMin: 10, WheelMax: 0, WheelStep: 1},
		{FormID: f.ID, Key: "k9", Kind: KindNumberWheel, WheelMin: 0, WheelMax: 100000, WheelStep: 1},
		{FormID: f.ID, Key: "k10", Kind: KindNumberWheel, WheelMin: 10, WheelMax: 20, WheelStep: 2, WheelDefault: 13},
		{FormID: f.ID, Key: "k11", Kind: KindAgeAuto},
		{FormID: f.ID, Key: "k12", Kind: KindInput, VisibilitySource: "k12", VisibilityMatch: []string{"x"}},
		{FormID: f.ID, Key: "k13", Kind: KindInput, VisibilitySource: "ghost", VisibilityMatch: []string{"x"}},
		{FormID: f.ID, Key: "k14", Kind: KindInput, VisibilitySource: "field1"},
	}
	for _, c := range bad {
		if err := svc.CreateComponent(ctx, c); err == nil {
			t.Errorf("component %s should fail validation", c.Key)
		}
	}

	ok := &Component{
		FormID: f.ID, Key: "k20", Label: "OK", Kind: KindNumberWheel,
		WheelMin: 10, WheelMax: 20, WheelStep: 2, WheelDefault: 14,
	}
	if err := svc.CreateComponent(ctx, ok); err != nil {
		t.Fatalf("valid wheel rejected: %v", err)
	}
	vis := &Component{
		FormID: f.ID, Key: "k21", Label: "Vis", Kind: KindInput,
		VisibilitySource: "field1", VisibilityMode: VisibilityShowIfMatch, VisibilityMatch: []string{"yes"},
	}
	if err := svc.CreateComponent(ctx, vis); err != nil {
		t.Fatalf("valid visibility rule rejected: %v", err)
	}
}

func TestReplaceOptions(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	ctx := context.Background()
	f := &Form{Name: "Intake"}
	if err := svc.CreateForm(ctx, f); err != nil {
		t.Fatal(err)
	}
	radio := &Component{FormID: f.ID, Key: "choice", Label: "Choice", Kind: KindRadio}
	if err := svc.CreateComponent(ctx, radio); err != nil {
		t.Fatal(err)
	}
	text := &Component{FormID: f.ID, Key: "free", Label: "Free", Kind: KindInput}
	if err := svc.CreateComponent(ctx, text); err != nil {
		t.Fatal(err)
	}

	if err := svc.ReplaceOptions(ctx, text.ID, []*Option{{Name: "a"}}); err == nil {
		t.Fatal("options on a text component must be rejected")
	}
	if err := svc.ReplaceOptions(ctx, radio.ID, []*Option{{Name: "a"}, {Name: "a"}}); err == nil {
		t.Fatal("duplicate option names must be rejected")
	}
	if err := svc.ReplaceOptions(ctx, radio.ID, []*Option{
		{Name: "a", IsDefault: true}, {Name: "b", IsDefault: true},
	}); err == nil {
		t.Fatal("two defaults on a radio must be rejected")
	}

	if err := svc.ReplaceOptionsFromText(ctx, radio.ID, "Yes, No; Maybe", "No"); err != nil {
		t.Fatal(err)
	}
	opts, err := svc.ListOptions(ctx, radio.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(opts) != 3 {
		t.Fatalf("want 3 options, got %d", len(opts))
	}
	if opts[1].Name != "No" || !opts[1].IsDefault {
		t.Fatalf("default flag not applied: %+v", opts[1])
	}

	// Cascading parent must live in the same set and differ from the child.
	a := &Option{ID: uuid.New(), Name: "Parent"}
	child := &Option{ID: uuid.New(), Name: "Child", ParentID: &a.ID}
	if err := svc.ReplaceOptions(ctx, radio.ID, []*Option{a, child}); err != nil {
		t.Fatal(err)
	}
	self := &Option{ID: uuid.New(), Name: "Self"}
	self.ParentID = &self.ID
	if err := svc.ReplaceOptions(ctx, radio.ID, []*Option{self}); err == nil {
		t.Fatal("self-parent must be rejected")
	}
	stranger := uuid.New()
	if err := svc.ReplaceOptions(ctx, radio.ID, []*Option{{Name: "x", ParentID: &stranger}}); err == nil {
		t.Fatal("foreign parent must be rejected")
	}
}

func TestRootAndChildOptions(t *testing.T) {
	p := &Option{ID: uuid.New(), Name: "p"}
	c1 := &Option{ID: uuid.New(), Name: "c1", ParentID: &p.ID}
	c2 := &Option{ID: uuid.New(), Name: "c2", ParentID: &p.ID}
	all := []*Option{p, c1, c2}

	roots := RootOptions(all)
	if len(roots) != 1 || roots[0].Name != "p" {
		t.Fatalf("roots = %v", roots)
	}
	children := ChildOptions(all, p.ID)
	if len(children) != 2 {
		t.Fatalf("children = %v", children)
	}
}
