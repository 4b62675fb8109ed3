package lis

import (
	"time"

	"github.com/google/uuid"
)

// Endpoint auth types.
const (
	AuthNone   = "none"
	AuthAPIKey = "api_key"
	AuthBearer = "bearer"
	AuthBasic  = "basic"
)

// Metadata item types.
const (
	ItemSampleType = "sample_type"
	ItemService    = "service"
	ItemProfile    = "profile"
)

// Request line types.
const (
	LineService = "service"
	LineProfile = "profile"
)

// Value source modes for priority and specimen fields.
const (
	ModeFixed = "fixed"
	ModeField = "field"
)

// Priorities accepted by the fixed mode.
const (
	PriorityRoutine = "routine"
	PriorityUrgent  = "urgent"
	PriorityStat    = "stat"
)

// DefaultSpecimenRef is used whenever a specimen reference resolves empty.
const DefaultSpecimenRef = "SP1"

// SampleTypeCodes is the closed set of manual fallback sample types.
var SampleTypeCodes = []string{
	"blood", "serum", "plasma", "urine", "swab", "saliva",
	"stool", "sputum", "semen", "tissue", "csf", "other",
}

var validSampleTypes = func() map[string]bool {
	m := make(map[string]bool, len(SampleTypeCodes))
	for _, c := range SampleTypeCodes {
		m[c] = true
	}
	return m
}()

// ValidSampleType reports whether code is a known manual sample type.
func ValidSampleType(code string) bool { return validSampleTypes[code] }

var validAuthTypes = map[string]bool{
	AuthNone: true, AuthAPIKey: true, AuthBearer: true, AuthBasic: true,
}

var validPriorities = map[string]bool{
	PriorityRoutine: true, PriorityUrgent: true, PriorityStat: true,
}

// Endpoint describes how to reach one external lab system.
type Endpoint struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Active         bool      `db:"active" json:"active"`
	BaseURL        string    `db:"base_url" json:"base_url"`
	EndpointCode   string    `db:"endpoint_code" json:"endpoint_code"`
	AuthType       string    `db:"auth_type" json:"auth_type"`
	APIKey         string    `db:"api_key" json:"api_key,omitempty"`
	BearerToken    string    `db:"bearer_token" json:"bearer_token,omitempty"`
	Username       string    `db:"username" json:"username,omitempty"`
	Password       string    `db:"password" json:"password,omitempty"`
	TimeoutSeconds int       `db:"timeout_seconds" json:"timeout_seconds"`
	VerifySSL      bool      `db:"verify_ssl" json:"verify_ssl"`
	Notes          string    `db:"notes" json:"notes,omitempty"`

	MetadataSyncTime    *time.Time `db:"metadata_sync_time" json:"metadata_sync_time,omitempty"`
	MetadataSyncMessage string     `db:"metadata_sync_message" json:"metadata_sync_message,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// MetaItem is one synced catalog entry (sample type, service, or
// profile). Code is unique per endpoint and item type.
type MetaItem struct {
	ID             uuid.UUID `db:"id" json:"id"`
	EndpointID     uuid.UUID `db:"endpoint_id" json:"endpoint_id"`
	ItemType       string    `db:"item_type" json:"item_type"`
	Code           string    `db:"code" json:"code"`
	Name           string    `db:"name" json:"name"`
	SampleTypeCode string    `db:"sample_type_code" json:"sample_type_code,omitempty"`
	IsDefault      bool      `db:"is_default" json:"is_default"`
	Active         bool      `db:"active" json:"active"`
}

// Label renders the catalog display form "[CODE] Name".
func (m *MetaItem) Label() string { return "[" + m.Code + "] " + m.Name }

// SpecimenSpec resolves one specimen's reference, barcode, and sample
// type, each independently from a fixed value or a form field. The
// barcode has no fixed mode.
type SpecimenSpec struct {
	RefMode      string     `db:"specimen_ref_mode" json:"specimen_ref_mode"`
	RefFixed     string     `db:"specimen_ref_fixed" json:"specimen_ref_fixed"`
	RefComponent *uuid.UUID `db:"specimen_ref_component_id" json:"specimen_ref_component_id,omitempty"`

	BarcodeComponent *uuid.UUID `db:"specimen_barcode_component_id" json:"specimen_barcode_component_id,omitempty"`

	SampleTypeMode      string     `db:"specimen_sample_type_mode" json:"specimen_sample_type_mode"`
	SampleTypeFixed     string     `db:"specimen_sample_type_fixed" json:"specimen_sample_type_fixed"`
	SampleTypeMeta      *uuid.UUID `db:"specimen_sample_type_meta_id" json:"specimen_sample_type_meta_id,omitempty"`
	SampleTypeComponent *uuid.UUID `db:"specimen_sample_type_component_id" json:"specimen_sample_type_component_id,omitempty"`
}

// Mapping translates one form's answer map into one endpoint's request
// schema. At most one mapping per form may be active.
type Mapping struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Active     bool      `db:"active" json:"active"`
	FormID     uuid.UUID `db:"form_id" json:"form_id"`
	EndpointID uuid.UUID `db:"endpoint_id" json:"endpoint_id"`

	ExternalUIDComponent       *uuid.UUID `db:"external_uid_component_id" json:"external_uid_component_id,omitempty"`
	PatientNameComponent       *uuid.UUID `db:"patient_name_component_id" json:"patient_name_component_id,omitempty"`
	PatientIdentifierComponent *uuid.UUID `db:"patient_identifier_component_id" json:"patient_identifier_component_id,omitempty"`
	PatientGenderComponent     *uuid.UUID `db:"patient_gender_component_id" json:"patient_gender_component_id,omitempty"`
	PatientBirthdateComponent  *uuid.UUID `db:"patient_birthdate_component_id" json:"patient_birthdate_component_id,omitempty"`
	PatientPhoneComponent      *uuid.UUID `db:"patient_phone_component_id" json:"patient_phone_component_id,omitempty"`
	PhysicianNameComponent     *uuid.UUID `db:"physician_name_component_id" json:"physician_name_component_id,omitempty"`
	PhysicianRefComponent      *uuid.UUID `db:"physician_ref_component_id" json:"physician_ref_component_id,omitempty"`

	// ClinicalNoteComponent is the legacy single source; the multi-field
	// set takes precedence when it resolves non-empty.
	ClinicalNoteComponent      *uuid.UUID  `db:"clinical_note_component_id" json:"clinical_note_component_id,omitempty"`
	ClinicalNoteComponents     []uuid.UUID `db:"clinical_note_component_ids" json:"clinical_note_component_ids,omitempty"`
	PreferredTemplateComponent *uuid.UUID  `db:"preferred_template_component_id" json:"preferred_template_component_id,omitempty"`

	PriorityMode      string     `db:"priority_mode" json:"priority_mode"`
	PriorityFixed     string     `db:"priority_fixed" json:"priority_fixed"`
	PriorityComponent *uuid.UUID `db:"priority_component_id" json:"priority_component_id,omitempty"`

	Lines  []*MappingLine `db:"-" json:"lines,omitempty"`
	Combos []*Combo       `db:"-" json:"combos,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ComponentRefs returns every form component the mapping binds.
func (m *Mapping) ComponentRefs() []uuid.UUID {
	var ids []uuid.UUID
	for _, p := range []*uuid.UUID{
		m.ExternalUIDComponent, m.PatientNameComponent, m.PatientIdentifierComponent,
		m.PatientGenderComponent, m.PatientBirthdateComponent, m.PatientPhoneComponent,
		m.PhysicianNameComponent, m.PhysicianRefComponent, m.ClinicalNoteComponent,
		m.PreferredTemplateComponent, m.PriorityComponent,
	} {
		if p != nil {
			ids = append(ids, *p)
		}
	}
	ids = append(ids, m.ClinicalNoteComponents...)
	for _, line := range m.Lines {
		ids = append(ids, line.componentRefs()...)
	}
	for _, combo := range m.Combos {
		if combo.NoteComponent != nil {
			ids = append(ids, *combo.NoteComponent)
		}
		for _, sp := range combo.Specimens {
			ids = append(ids, sp.Spec.componentRefs()...)
		}
	}
	return ids
}

// MetaRefs returns every metadata item the mapping binds.
func (m *Mapping) MetaRefs() []uuid.UUID {
	var ids []uuid.UUID
	for _, line := range m.Lines {
		for _, p := range []*uuid.UUID{line.ServiceMeta, line.ProfileMeta, line.Spec.SampleTypeMeta} {
			if p != nil {
				ids = append(ids, *p)
			}
		}
	}
	for _, combo := range m.Combos {
		ids = append(ids, combo.ServiceMetaIDs...)
		ids = append(ids, combo.ProfileMetaIDs...)
		for _, sp := range combo.Specimens {
			if sp.Spec.SampleTypeMeta != nil {
				ids = append(ids, *sp.Spec.SampleTypeMeta)
			}
		}
	}
	return ids
}

func (s *SpecimenSpec) componentRefs() []uuid.UUID {
	var ids []uuid.UUID
	for _, p := range []*uuid.UUID{s.RefComponent, s.BarcodeComponent, s.SampleTypeComponent} {
		if p != nil {
			ids = append(ids, *p)
		}
	}
	return ids
}

// MappingLine is one flat request line template.
type MappingLine struct {
	ID        uuid.UUID `db:"id" json:"id"`
	MappingID uuid.UUID `db:"mapping_id" json:"mapping_id"`
	Sequence  int       `db:"sequence" json:"sequence"`
	Name      string    `db:"name" json:"name,omitempty"`

	LineType string `db:"line_type" json:"line_type"`
	// Manual fallback codes, used when no metadata item is bound.
	ServiceCode string     `db:"service_code" json:"service_code,omitempty"`
	ProfileCode string     `db:"profile_code" json:"profile_code,omitempty"`
	ServiceMeta *uuid.UUID `db:"service_meta_id" json:"service_meta_id,omitempty"`
	ProfileMeta *uuid.UUID `db:"profile_meta_id" json:"profile_meta_id,omitempty"`

	Spec          SpecimenSpec `json:"spec"`
	NoteComponent *uuid.UUID   `db:"note_component_id" json:"note_component_id,omitempty"`
}

func (l *MappingLine) componentRefs() []uuid.UUID {
	ids := l.Spec.componentRefs()
	if l.NoteComponent != nil {
		ids = append(ids, *l.NoteComponent)
	}
	return ids
}

// Combo groups services/profiles with specimen rows: the payload takes
// the cartesian product of specimens and bound catalog items.
type Combo struct {
	ID        uuid.UUID `db:"id" json:"id"`
	MappingID uuid.UUID `db:"mapping_id" json:"mapping_id"`
	Sequence  int       `db:"sequence" json:"sequence"`
	Name      string    `db:"name" json:"name"`

	ServiceMetaIDs []uuid.UUID `db:"service_meta_ids" json:"service_meta_ids,omitempty"`
	ProfileMetaIDs []uuid.UUID `db:"profile_meta_ids" json:"profile_meta_ids,omitempty"`
	NoteComponent  *uuid.UUID  `db:"note_component_id" json:"note_component_id,omitempty"`

	Specimens []*Specimen `db:"-" json:"specimens,omitempty"`
}

// Specimen is one physical sample row under a combo.
type Specimen struct {
	ID       uuid.UUID `db:"id" json:"id"`
	ComboID  uuid.UUID `db:"combo_id" json:"combo_id"`
	Sequence int       `db:"sequence" json:"sequence"`
	Name     string    `db:"name" json:"name,omitempty"`

	Spec SpecimenSpec `json:"spec"`
}
