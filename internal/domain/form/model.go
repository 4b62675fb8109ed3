package form

import (
	"time"

	"github.com/google/uuid"
)

// Component kinds. The set is closed: every kind named here has exactly one
// validation and extraction contract, and unknown kinds are rejected on save.
const (
	KindInput           = "input"
	KindEmail           = "email"
	KindFormattedNumber = "formatted_number"
	KindNumberWheel     = "number_wheel"
	KindTextarea        = "textarea"
	KindMultilineText   = "multiline_text"
	KindAgeAuto         = "age_auto"
	KindFileUpload      = "file_upload"
	KindSection         = "section"
	KindDisplay         = "display"
	KindImage           = "image"
	KindRadio           = "radio"
	KindSelect          = "select"
	KindCheckbox        = "checkbox"
	KindDate            = "date"
	KindSignature       = "signature"
	KindBarcodeScan     = "barcode_scan"
)

var validKinds = map[string]bool{
	KindInput: true, KindEmail: true, KindFormattedNumber: true,
	KindNumberWheel: true, KindTextarea: true, KindMultilineText: true,
	KindAgeAuto: true, KindFileUpload: true, KindSection: true,
	KindDisplay: true, KindImage: true, KindRadio: true, KindSelect: true,
	KindCheckbox: true, KindSignature: true, KindDate: true,
	KindBarcodeScan: true,
}

// ValidKind reports whether kind names a supported component kind.
func ValidKind(kind string) bool { return validKinds[kind] }

// layoutKinds never carry a value and are skipped by the assembler.
var layoutKinds = map[string]bool{
	KindSection: true, KindDisplay: true, KindImage: true,
}

// IsLayout reports whether the kind is presentational only.
func IsLayout(kind string) bool { return layoutKinds[kind] }

// Case transforms for text kinds.
const (
	CaseNone  = "none"
	CaseUpper = "upper"
	CaseLower = "lower"
)

// Validation modes for text kinds.
const (
	ModeNone        = "none"
	ModeAlpha       = "alpha"
	ModeAlnum       = "alnum"
	ModePhone       = "phone"
	ModeEmail       = "email"
	ModeCustomRegex = "custom_regex"
)

// Date display formats.
const (
	DateMMDDYYYY = "mmddyyyy"
	DateDDMMYYYY = "ddmmyyyy"
	DateYYYYMMDD = "yyyymmdd"
)

// Age policy actions.
const (
	AgeActionBlock = "block"
	AgeActionWarn  = "warn"
)

// Visibility modes.
const (
	VisibilityShowIfMatch = "show_if_match"
	VisibilityHideIfMatch = "hide_if_match"
)

// Form maps to the form table. AccessToken is the capability for the public
// fill-in URL; knowing it is sufficient to read and submit the form.
type Form struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	Name              string     `db:"name" json:"name"`
	AccessToken       string     `db:"access_token" json:"access_token"`
	Enabled           bool       `db:"enabled" json:"enabled"`
	AllowRepeatSubmit bool       `db:"allow_repeat_submit" json:"allow_repeat_submit"`
	Description       string     `db:"description" json:"description,omitempty"`
	QRDescription     string     `db:"qr_description" json:"qr_description,omitempty"`
	SuccessMessage    string     `db:"success_message" json:"success_message,omitempty"`
	ClosedMessage     string     `db:"closed_message" json:"closed_message,omitempty"`
	DuplicateMessage  string     `db:"duplicate_message" json:"duplicate_message,omitempty"`
	ConfirmComponent1 *uuid.UUID `db:"confirm_component1_id" json:"confirm_component1_id,omitempty"`
	ConfirmComponent2 *uuid.UUID `db:"confirm_component2_id" json:"confirm_component2_id,omitempty"`
	UniqueComponent1  *uuid.UUID `db:"unique_component1_id" json:"unique_component1_id,omitempty"`
	UniqueComponent2  *uuid.UUID `db:"unique_component2_id" json:"unique_component2_id,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// KeyComponentIDs returns the confirm/unique component references that are set.
func (f *Form) KeyComponentIDs() []uuid.UUID {
	var ids []uuid.UUID
	for _, p := range []*uuid.UUID{f.ConfirmComponent1, f.ConfirmComponent2, f.UniqueComponent1, f.UniqueComponent2} {
		if p != nil {
			ids = append(ids, *p)
		}
	}
	return ids
}

// Component maps to the form_component table.
type Component struct {
	ID              uuid.UUID `db:"id" json:"id"`
	FormID          uuid.UUID `db:"form_id" json:"form_id"`
	Key             string    `db:"key" json:"key"`
	Label           string    `db:"label" json:"label"`
	Kind            string    `db:"kind" json:"kind"`
	Sequence        int       `db:"sequence" json:"sequence"`
	Required        bool      `db:"required" json:"required"`
	IncludeInExport bool      `db:"include_in_export" json:"include_in_export"`
	Placeholder     string    `db:"placeholder" json:"placeholder,omitempty"`
	HelpText        string    `db:"help_text" json:"help_text,omitempty"`

	// Text validation.
	MinLength      int    `db:"min_length" json:"min_length,omitempty"`
	MaxLength      int    `db:"max_length" json:"max_length,omitempty"`
	CaseMode       string `db:"case_mode" json:"case_mode,omitempty"`
	OnlyDigits     bool   `db:"only_digits" json:"only_digits,omitempty"`
	ValidationMode string `db:"validation_mode" json:"validation_mode,omitempty"`
	CustomRegex    string `db:"custom_regex" json:"custom_regex,omitempty"`

	// formatted_number.
	NumberPattern string `db:"number_pattern" json:"number_pattern,omitempty"`

	// number_wheel.
	WheelMin     int `db:"wheel_min" json:"wheel_min,omitempty"`
	WheelMax     int `db:"wheel_max" json:"wheel_max,omitempty"`
	WheelStep    int `db:"wheel_step" json:"wheel_step,omitempty"`
	WheelDefault int `db:"wheel_default" json:"wheel_default,omitempty"`

	// date.
	DateFormat string `db:"date_format" json:"date_format,omitempty"`

	// age_auto.
	LinkedDateKey string `db:"linked_date_key" json:"linked_date_key,omitempty"`
	AgeMin        *int   `db:"age_min" json:"age_min,omitempty"`
	AgeMax        *int   `db:"age_max" json:"age_max,omitempty"`
	AgeMinAction  string `db:"age_min_action" json:"age_min_action,omitempty"`
	AgeMaxAction  string `db:"age_max_action" json:"age_max_action,omitempty"`
	AgeMinMessage string `db:"age_min_message" json:"age_min_message,omitempty"`
	AgeMaxMessage string `db:"age_max_message" json:"age_max_message,omitempty"`

	// file_upload. FileAccept holds comma-separated accept tokens.
	FileAccept string `db:"file_accept" json:"file_accept,omitempty"`
	FileMaxMB  int    `db:"file_max_mb" json:"file_max_mb,omitempty"`

	// Visibility rule. SourceKey names another component on the same form.
	VisibilitySource string   `db:"visibility_source" json:"visibility_source,omitempty"`
	VisibilityMode   string   `db:"visibility_mode" json:"visibility_mode,omitempty"`
	VisibilityMatch  []string `db:"visibility_match" json:"visibility_match,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HasVisibilityRule reports whether the component carries a usable rule.
func (c *Component) HasVisibilityRule() bool {
	return c.VisibilitySource != "" && len(c.VisibilityMatch) > 0
}

// Option maps to the form_component_option table. ParentID links cascading
// options to a choice on the same component.
type Option struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	ComponentID uuid.UUID  `db:"component_id" json:"component_id"`
	Name        string     `db:"name" json:"name"`
	Sequence    int        `db:"sequence" json:"sequence"`
	IsDefault   bool       `db:"is_default" json:"is_default"`
	ParentID    *uuid.UUID `db:"parent_id" json:"parent_id,omitempty"`
}
