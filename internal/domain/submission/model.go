package submission

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// LIS push states recorded on a submission after a push attempt.
const (
	PushStateNone    = "none"
	PushStateSuccess = "success"
	PushStateFailed  = "failed"
)

// Submission is one completed fill-in of a form. AnswerJSON snapshots the
// full answer map at submit time; Lines carry the per-field breakdown with
// component snapshots so later form edits never rewrite history.
type Submission struct {
	ID               uuid.UUID `db:"id" json:"id"`
	FormID           uuid.UUID `db:"form_id" json:"form_id"`
	Name             string    `db:"name" json:"name"`
	SubmitDate       time.Time `db:"submit_date" json:"submit_date"`
	ClientIdentifier string    `db:"client_identifier" json:"client_identifier,omitempty"`
	AnswerJSON       string    `db:"answer_json" json:"answer_json"`
	SearchableText   string    `db:"searchable_text" json:"-"`

	ConfirmKey1 string `db:"confirm_key1" json:"confirm_key1,omitempty"`
	ConfirmKey2 string `db:"confirm_key2" json:"confirm_key2,omitempty"`
	UniqueKey1  string `db:"unique_key1" json:"unique_key1,omitempty"`
	UniqueKey2  string `db:"unique_key2" json:"unique_key2,omitempty"`

	IsConfirmed bool       `db:"is_confirmed" json:"is_confirmed"`
	ConfirmedAt *time.Time `db:"confirmed_at" json:"confirmed_at,omitempty"`
	ConfirmedBy string     `db:"confirmed_by" json:"confirmed_by,omitempty"`

	DeviceType     string `db:"device_type" json:"device_type,omitempty"`
	OSName         string `db:"os_name" json:"os_name,omitempty"`
	BrowserName    string `db:"browser_name" json:"browser_name,omitempty"`
	BrowserVersion string `db:"browser_version" json:"browser_version,omitempty"`

	PushState     string     `db:"push_state" json:"push_state"`
	PushedAt      *time.Time `db:"pushed_at" json:"pushed_at,omitempty"`
	PushMessage   string     `db:"push_message" json:"push_message,omitempty"`
	PushRequestNo string     `db:"push_request_no" json:"push_request_no,omitempty"`
	PushMappingID *uuid.UUID `db:"push_mapping_id" json:"push_mapping_id,omitempty"`

	Lines []*Line `db:"-" json:"lines,omitempty"`
}

// Line is one answered field. Key, Label, SequenceSnapshot and
// KindSnapshot are frozen copies of the component at submit time.
type Line struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	SubmissionID     uuid.UUID  `db:"submission_id" json:"submission_id"`
	ComponentID      *uuid.UUID `db:"component_id" json:"component_id,omitempty"`
	SequenceSnapshot int        `db:"sequence_snapshot" json:"sequence_snapshot"`
	KindSnapshot     string     `db:"kind_snapshot" json:"kind_snapshot"`
	AttachmentID     string     `db:"attachment_id" json:"attachment_id,omitempty"`
	Key              string     `db:"key" json:"key"`
	Label            string     `db:"label" json:"label"`
	ValueText        string     `db:"value_text" json:"value_text"`
}

const answerPreviewLimit = 260

// AnswerPreview builds the short list-view summary from the first lines.
// Inline images collapse to a placeholder.
func (s *Submission) AnswerPreview() string {
	var pairs []string
	for i, line := range s.Lines {
		if i >= 4 {
			break
		}
		value := line.ValueText
		if strings.HasPrefix(value, "data:image") {
			value = "[signature/image]"
		} else {
			value = strings.Join(strings.Fields(value), " ")
			if len([]rune(value)) > 60 {
				value = string([]rune(value)[:60]) + "..."
			}
		}
		pairs = append(pairs, line.Label+": "+value)
	}
	preview := strings.Join(pairs, " | ")
	if len([]rune(preview)) > answerPreviewLimit {
		preview = string([]rune(preview)[:answerPreviewLimit]) + "..."
	}
	return preview
}

// SearchText flattens labels and values into the indexed search field.
func (s *Submission) SearchText() string {
	var parts []string
	for _, line := range s.Lines {
		label := line.Label
		if label == "" {
			label = line.Key
		}
		parts = append(parts, label+" "+line.ValueText)
	}
	return strings.Join(parts, " | ")
}
