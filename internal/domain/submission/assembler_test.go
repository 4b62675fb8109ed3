package submission

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mform/mform/internal/domain/form"
	"github.com/mform/mform/internal/platform/blobstore"
)

func testComponent(key, label, kind string, seq int) *form.Component {
	return &form.Component{ID: uuid.New(), Key: key, Label: label, Kind: kind, Sequence: seq}
}

type stubFiles map[string]*FileUpload

func (s stubFiles) File(key string) *FileUpload { return s[key] }

func fileOf(name, contentType string, data []byte) *FileUpload {
	return &FileUpload{
		FileName:    name,
		ContentType: contentType,
		Open:        func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

func newTestAssembler() *Assembler {
	return NewAssembler(blobstore.NewInMemoryStore())
}

func TestAssemble_AnswersAndLines(t *testing.T) {
	a := newTestAssembler()
	f := &form.Form{ID: uuid.New()}
	components := []*form.Component{
		testComponent("intro", "Intro", form.KindSection, 10),
		testComponent("name", "Name", form.KindInput, 20),
		testComponent("colors", "Colors", form.KindCheckbox, 30),
	}
	values := Values{"name": {"  Alice "}, "colors": {"red", " blue ", ""}}

	out, err := a.Assemble(context.Background(), f, components, values, NoFiles{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if out.Answers["name"] != "Alice" {
		t.Errorf("name = %q", out.Answers["name"])
	}
	if out.Answers["colors"] != "red, blue" {
		t.Errorf("colors = %q, want joined selection", out.Answers["colors"])
	}
	if _, ok := out.Answers["intro"]; ok {
		t.Error("layout component must not produce an answer")
	}
	if len(out.Lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(out.Lines))
	}
	if out.Lines[0].Key != "name" || out.Lines[0].SequenceSnapshot != 20 {
		t.Errorf("first line = %s/%d", out.Lines[0].Key, out.Lines[0].SequenceSnapshot)
	}
	if out.Lines[1].ValueText != "red, blue" {
		t.Errorf("checkbox line = %q", out.Lines[1].ValueText)
	}
}

func TestAssemble_HiddenFieldStoredEmpty(t *testing.T) {
	a := newTestAssembler()
	f := &form.Form{ID: uuid.New()}
	other := testComponent("other", "Other detail", form.KindInput, 20)
	other.Required = true
	other.VisibilitySource = "choice"
	other.VisibilityMatch = []string{"Other"}
	components := []*form.Component{
		testComponent("choice", "Choice", form.KindRadio, 10),
		other,
	}

	out, err := a.Assemble(context.Background(), f, components,
		Values{"choice": {"Standard"}, "other": {"stale text"}}, NoFiles{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if out.Answers["other"] != "" {
		t.Errorf("hidden answer = %q, want empty", out.Answers["other"])
	}

	// Matching value makes the same field visible and required again.
	_, err = a.Assemble(context.Background(), f, components,
		Values{"choice": {"Other"}}, NoFiles{})
	var vf *ValidationFailure
	if !errors.As(err, &vf) {
		t.Fatalf("expected ValidationFailure, got %v", err)
	}
	if vf.Key != "other" {
		t.Errorf("failure key = %q", vf.Key)
	}
}

func TestAssemble_RequiredFailure(t *testing.T) {
	a := newTestAssembler()
	f := &form.Form{ID: uuid.New()}
	name := testComponent("name", "Full name", form.KindInput, 10)
	name.Required = true

	_, err := a.Assemble(context.Background(), f, []*form.Component{name},
		Values{"name": {"   "}}, NoFiles{})
	var vf *ValidationFailure
	if !errors.As(err, &vf) {
		t.Fatalf("expected ValidationFailure, got %v", err)
	}
	if vf.Message != "Field 'Full name' is required." {
		t.Errorf("message = %q", vf.Message)
	}
}

func TestAssemble_EmailLowercased(t *testing.T) {
	a := newTestAssembler()
	f := &form.Form{ID: uuid.New()}
	email := testComponent("email", "Email", form.KindEmail, 10)

	out, err := a.Assemble(context.Background(), f, []*form.Component{email},
		Values{"email": {"Alice@Example.COM"}}, NoFiles{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if out.Answers["email"] != "alice@example.com" {
		t.Errorf("email = %q", out.Answers["email"])
	}
}

func TestAssemble_DateStoredInDisplayFormat(t *testing.T) {
	a := newTestAssembler()
	f := &form.Form{ID: uuid.New()}
	dob := testComponent("dob", "Birth date", form.KindDate, 10)
	dob.DateFormat = form.DateMMDDYYYY

	out, err := a.Assemble(context.Background(), f, []*form.Component{dob},
		Values{"dob": {"2000-01-31"}}, NoFiles{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if out.Answers["dob"] != "01/31/2000" {
		t.Errorf("dob = %q", out.Answers["dob"])
	}
}

func TestAssemble_AgePolicy(t *testing.T) {
	a := newTestAssembler()
	a.now = func() time.Time { return time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC) }
	f := &form.Form{ID: uuid.New()}

	minAge := 18
	age := testComponent("age", "Age", form.KindAgeAuto, 20)
	age.LinkedDateKey = "dob"
	age.AgeMin = &minAge
	age.AgeMinAction = form.AgeActionBlock
	age.AgeMinMessage = "Must be an adult."
	components := []*form.Component{
		testComponent("dob", "Birth date", form.KindDate, 10),
		age,
	}

	// Computed from the raw posted date, the age blocks the submission.
	_, err := a.Assemble(context.Background(), f, components,
		Values{"dob": {"2015-06-01"}}, NoFiles{})
	var blocked *PolicyBlockFailure
	if !errors.As(err, &blocked) {
		t.Fatalf("expected PolicyBlockFailure, got %v", err)
	}
	if blocked.Message != "Must be an adult." {
		t.Errorf("message = %q", blocked.Message)
	}

	// A warn action lets the submission through with the message attached.
	age.AgeMinAction = form.AgeActionWarn
	out, err := a.Assemble(context.Background(), f, components,
		Values{"dob": {"2015-06-01"}}, NoFiles{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(out.Warnings) != 1 || out.Warnings[0] != "Must be an adult." {
		t.Errorf("warnings = %v", out.Warnings)
	}
	if out.Answers["age"] != "11" {
		t.Errorf("age = %q", out.Answers["age"])
	}
}

func TestAssemble_FileUpload(t *testing.T) {
	store := blobstore.NewInMemoryStore()
	a := NewAssembler(store)
	f := &form.Form{ID: uuid.New()}
	upload := testComponent("report", "Report", form.KindFileUpload, 10)
	upload.FileAccept = ".pdf"

	files := stubFiles{"report": fileOf("report.pdf", "application/pdf", []byte("%PDF-1.4"))}
	out, err := a.Assemble(context.Background(), f, []*form.Component{upload}, Values{}, files)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if out.Answers["report"] != "report.pdf" {
		t.Errorf("answer = %q, want the file name", out.Answers["report"])
	}
	if out.Lines[0].AttachmentID == "" {
		t.Fatal("expected an attachment id on the line")
	}
	if _, err := store.GetMetadata(context.Background(), out.Lines[0].AttachmentID); err != nil {
		t.Errorf("uploaded blob missing: %v", err)
	}
}

func TestAssemble_FileUploadRejections(t *testing.T) {
	a := newTestAssembler()
	f := &form.Form{ID: uuid.New()}
	upload := testComponent("report", "Report", form.KindFileUpload, 10)
	upload.FileAccept = ".pdf"
	upload.FileMaxMB = 1

	_, err := a.Assemble(context.Background(), f, []*form.Component{upload}, Values{},
		stubFiles{"report": fileOf("notes.txt", "text/plain", []byte("hi"))})
	var vf *ValidationFailure
	if !errors.As(err, &vf) {
		t.Fatalf("expected type rejection, got %v", err)
	}

	big := bytes.Repeat([]byte("x"), 1024*1024+1)
	_, err = a.Assemble(context.Background(), f, []*form.Component{upload}, Values{},
		stubFiles{"report": fileOf("big.pdf", "application/pdf", big)})
	if !errors.As(err, &vf) {
		t.Fatalf("expected size rejection, got %v", err)
	}
}

func TestAssemble_DerivesKeys(t *testing.T) {
	a := newTestAssembler()
	phone := testComponent("phone", "Phone", form.KindInput, 10)
	email := testComponent("email", "Email", form.KindEmail, 20)
	f := &form.Form{
		ID:                uuid.New(),
		ConfirmComponent1: &phone.ID,
		UniqueComponent1:  &email.ID,
	}

	out, err := a.Assemble(context.Background(), f, []*form.Component{phone, email},
		Values{"phone": {" 555-0100 "}, "email": {"A@b.cc"}}, NoFiles{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if out.ConfirmKey1 != "555-0100" {
		t.Errorf("ConfirmKey1 = %q", out.ConfirmKey1)
	}
	if out.UniqueKey1 != "a@b.cc" {
		t.Errorf("UniqueKey1 = %q, want the stored lowercase value", out.UniqueKey1)
	}
	if out.ConfirmKey2 != "" || out.UniqueKey2 != "" {
		t.Error("unset key slots must stay empty")
	}
}
