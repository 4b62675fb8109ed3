package submission

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mform/mform/internal/domain/form"
	"github.com/mform/mform/internal/platform/blobstore"
)

// Values holds the posted form values. It satisfies form.ValueSource so
// visibility rules evaluate directly against it.
type Values map[string][]string

func (v Values) Values(key string) []string { return v[key] }

// First returns the first posted value for key, trimmed.
func (v Values) First(key string) string {
	vals := v[key]
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

// FileUpload is one uploaded file from a multipart request.
type FileUpload struct {
	FileName    string
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// FileSource supplies uploaded files by component key; nil means no file
// was posted for the key.
type FileSource interface {
	File(key string) *FileUpload
}

// NoFiles is a FileSource with nothing in it.
type NoFiles struct{}

func (NoFiles) File(string) *FileUpload { return nil }

// ValidationFailure is a recoverable field-level rejection: the form is
// re-rendered with the message and the posted values preserved.
type ValidationFailure struct {
	Key     string `json:"key,omitempty"`
	Label   string `json:"label,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationFailure) Error() string { return e.Message }

// PolicyBlockFailure blocks submission on an age policy; same recovery
// path as a validation failure.
type PolicyBlockFailure struct {
	Message string `json:"message"`
}

func (e *PolicyBlockFailure) Error() string { return e.Message }

// DuplicateField names one colliding unique field.
type DuplicateField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// DuplicateFailure reports a unique-key collision; the caller offers the
// keep-values/clear-values recovery page.
type DuplicateFailure struct {
	Fields []DuplicateField `json:"fields"`
}

func (e *DuplicateFailure) Error() string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	return "duplicate value for " + strings.Join(names, ", ")
}

// RepeatFailure rejects a second submission from a client on a form that
// disallows repeats.
type RepeatFailure struct{}

func (e *RepeatFailure) Error() string {
	return "This form does not allow repeated submission from the same client."
}

// Assembled is the outcome of a successful pipeline run, ready to persist.
type Assembled struct {
	Answers     map[string]string
	Lines       []*Line
	ConfirmKey1 string
	ConfirmKey2 string
	UniqueKey1  string
	UniqueKey2  string
	Warnings    []string
}

// Assembler turns posted values into an Assembled submission. It owns the
// per-field pipeline: visibility, extraction, rules, policy, required.
type Assembler struct {
	store blobstore.Store
	now   func() time.Time
}

func NewAssembler(store blobstore.Store) *Assembler {
	return &Assembler{store: store, now: time.Now}
}

// Assemble processes the form's components in sequence order. The first
// failing field aborts with a typed failure; hidden fields are stored as
// empty so the answer map always covers every value-carrying component.
func (a *Assembler) Assemble(ctx context.Context, f *form.Form, components []*form.Component, values Values, files FileSource) (*Assembled, error) {
	out := &Assembled{Answers: make(map[string]string, len(components))}
	byID := make(map[string]*form.Component, len(components))

	for _, c := range components {
		if form.IsLayout(c.Kind) {
			continue
		}
		byID[c.ID.String()] = c

		visible := form.IsVisible(c, values)

		value := ""
		attachmentID := ""
		if visible {
			var err error
			value, attachmentID, err = a.extract(ctx, c, values, files)
			if err != nil {
				return nil, err
			}
		}

		value, err := applyRulesTyped(c, value)
		if err != nil {
			return nil, err
		}

		if visible && c.Kind == form.KindEmail {
			value = strings.ToLower(value)
		}

		// Dates keep the raw ISO value through the rules but are stored
		// in their display format.
		if visible && c.Kind == form.KindDate && value != "" {
			value = form.FormatDateValue(value, c.DateFormat)
		}

		if visible && c.Kind == form.KindAgeAuto {
			if fail := a.checkAgePolicy(c, value, out); fail != nil {
				return nil, fail
			}
		}

		if visible && c.Required && value == "" {
			return nil, &ValidationFailure{
				Key:     c.Key,
				Label:   c.Label,
				Message: fmt.Sprintf("Field '%s' is required.", c.Label),
			}
		}

		out.Answers[c.Key] = value
		compID := c.ID
		out.Lines = append(out.Lines, &Line{
			ComponentID:      &compID,
			SequenceSnapshot: c.Sequence,
			KindSnapshot:     c.Kind,
			AttachmentID:     attachmentID,
			Key:              c.Key,
			Label:            c.Label,
			ValueText:        value,
		})
	}

	out.ConfirmKey1 = keyFromAnswers(out.Answers, byID, f.ConfirmComponent1)
	out.ConfirmKey2 = keyFromAnswers(out.Answers, byID, f.ConfirmComponent2)
	out.UniqueKey1 = keyFromAnswers(out.Answers, byID, f.UniqueComponent1)
	out.UniqueKey2 = keyFromAnswers(out.Answers, byID, f.UniqueComponent2)
	return out, nil
}

func (a *Assembler) extract(ctx context.Context, c *form.Component, values Values, files FileSource) (value, attachmentID string, err error) {
	switch c.Kind {
	case form.KindCheckbox:
		var selected []string
		for _, v := range values.Values(c.Key) {
			if t := strings.TrimSpace(v); t != "" {
				selected = append(selected, t)
			}
		}
		return strings.Join(selected, ", "), "", nil

	case form.KindFileUpload:
		upload := files.File(c.Key)
		if upload == nil || upload.FileName == "" {
			return "", "", nil
		}
		return a.storeUpload(ctx, c, upload)

	case form.KindAgeAuto:
		raw := ""
		if c.LinkedDateKey != "" {
			raw = values.First(c.LinkedDateKey)
		}
		return form.ComputeAgeFromDate(a.now(), raw), "", nil

	default:
		return values.First(c.Key), "", nil
	}
}

func (a *Assembler) storeUpload(ctx context.Context, c *form.Component, upload *FileUpload) (string, string, error) {
	src, err := upload.Open()
	if err != nil {
		return "", "", &ValidationFailure{Key: c.Key, Label: c.Label, Message: fmt.Sprintf("Could not read the uploaded file for '%s'.", c.Label)}
	}
	defer src.Close()

	limits := blobstore.UploadLimits{Accept: splitAccept(c.FileAccept)}
	if c.FileMaxMB > 0 {
		limits.MaxBytes = int64(c.FileMaxMB) * 1024 * 1024
	}
	meta, err := a.store.Upload(ctx, blobstore.BlobMetadata{
		FileName:     upload.FileName,
		ContentType:  upload.ContentType,
		ComponentKey: c.Key,
	}, limits, src)
	switch err {
	case nil:
		return upload.FileName, meta.ID, nil
	case blobstore.ErrFileTooLarge:
		return "", "", &ValidationFailure{Key: c.Key, Label: c.Label, Message: fmt.Sprintf("File for '%s' exceeds the %d MB limit.", c.Label, c.FileMaxMB)}
	case blobstore.ErrTypeNotAccepted:
		return "", "", &ValidationFailure{Key: c.Key, Label: c.Label, Message: fmt.Sprintf("File type is not allowed for '%s'.", c.Label)}
	default:
		return "", "", err
	}
}

func (a *Assembler) checkAgePolicy(c *form.Component, value string, out *Assembled) error {
	age, err := strconv.Atoi(value)
	if err != nil {
		age = 0
	}
	policy := form.EvaluateAgePolicy(c, age)
	if policy == nil {
		return nil
	}
	if policy.Action == form.AgeActionBlock {
		return &PolicyBlockFailure{Message: policy.Message}
	}
	out.Warnings = append(out.Warnings, policy.Message)
	return nil
}

func applyRulesTyped(c *form.Component, value string) (string, error) {
	value, err := form.ApplyRules(c, value)
	if err != nil {
		if ve, ok := err.(*form.ValidationError); ok {
			return "", &ValidationFailure{Key: ve.Key, Label: ve.Label, Message: ve.Message}
		}
		return "", err
	}
	return value, nil
}

func keyFromAnswers(answers map[string]string, byID map[string]*form.Component, componentID *uuid.UUID) string {
	if componentID == nil {
		return ""
	}
	c, ok := byID[componentID.String()]
	if !ok {
		return ""
	}
	return strings.TrimSpace(answers[c.Key])
}

func splitAccept(accept string) []string {
	if strings.TrimSpace(accept) == "" {
		return nil
	}
	parts := strings.Split(accept, ",")
	var out []string
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
