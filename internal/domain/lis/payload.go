package lis

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mform/mform/internal/domain/form"
	"github.com/mform/mform/internal/domain/submission"
)

var genderCodes = map[string]bool{
	"male": true, "female": true, "other": true, "unknown": true,
}

// PayloadBuilder resolves mapping bindings against one form's
// components and one endpoint's metadata catalog.
type PayloadBuilder struct {
	keyByComponent map[uuid.UUID]string
	seqByComponent map[uuid.UUID]int
	metaByID       map[uuid.UUID]*MetaItem
}

// NewPayloadBuilder indexes the form components and metadata items a
// mapping may reference.
func NewPayloadBuilder(components []*form.Component, meta []*MetaItem) *PayloadBuilder {
	b := &PayloadBuilder{
		keyByComponent: make(map[uuid.UUID]string, len(components)),
		seqByComponent: make(map[uuid.UUID]int, len(components)),
		metaByID:       make(map[uuid.UUID]*MetaItem, len(meta)),
	}
	for _, c := range components {
		b.keyByComponent[c.ID] = c.Key
		b.seqByComponent[c.ID] = c.Sequence
	}
	for _, item := range meta {
		b.metaByID[item.ID] = item
	}
	return b
}

// Build assembles the request payload for one submission's answer map.
// Scalar fields are sparse: keys are set only when the bound component
// resolves to a non-empty value. The "lines" key is always present.
func (b *PayloadBuilder) Build(m *Mapping, answers map[string]interface{}) map[string]interface{} {
	payload := map[string]interface{}{}

	setIf := func(key string, ref *uuid.UUID) {
		if v := b.value(answers, ref, ""); v != "" {
			payload[key] = v
		}
	}
	setIf("external_uid", m.ExternalUIDComponent)
	setIf("patient_name", m.PatientNameComponent)
	setIf("patient_identifier", m.PatientIdentifierComponent)
	if v := b.value(answers, m.PatientGenderComponent, ""); v != "" {
		payload["patient_gender"] = normalizeGender(v)
	}
	setIf("patient_birthdate", m.PatientBirthdateComponent)
	setIf("patient_phone", m.PatientPhoneComponent)
	setIf("physician_name", m.PhysicianNameComponent)
	setIf("partner_ref", m.PhysicianRefComponent)
	setIf("preferred_template", m.PreferredTemplateComponent)

	if note := b.clinicalNote(m, answers); note != "" {
		payload["clinical_note"] = note
	}
	if p := b.priority(m, answers); p != "" {
		payload["priority"] = p
	}

	if len(m.Combos) > 0 {
		payload["lines"] = b.comboLines(m, answers)
	} else {
		payload["lines"] = b.flatLines(m, answers)
	}
	return payload
}

// value resolves a bound component's answer, falling back to def when
// the binding is absent or the answer is empty.
func (b *PayloadBuilder) value(answers map[string]interface{}, ref *uuid.UUID, def string) string {
	if ref == nil {
		return def
	}
	key := b.keyByComponent[*ref]
	if key == "" {
		return def
	}
	if v := submission.NormalizeKeyValue(answers[key]); v != "" {
		return v
	}
	return def
}

func normalizeGender(v string) string {
	g := strings.ToLower(strings.TrimSpace(v))
	if genderCodes[g] {
		return g
	}
	return "unknown"
}

// clinicalNote joins the multi-field note sources with spaces, in the
// bound components' sequence order; the legacy single binding applies
// only when the joined form is empty.
func (b *PayloadBuilder) clinicalNote(m *Mapping, answers map[string]interface{}) string {
	ids := make([]uuid.UUID, len(m.ClinicalNoteComponents))
	copy(ids, m.ClinicalNoteComponents)
	sort.SliceStable(ids, func(i, j int) bool {
		si, sj := b.seqByComponent[ids[i]], b.seqByComponent[ids[j]]
		if si != sj {
			return si < sj
		}
		return ids[i].String() < ids[j].String()
	})

	var parts []string
	for _, id := range ids {
		ref := id
		if v := b.value(answers, &ref, ""); v != "" {
			parts = append(parts, v)
		}
	}
	if joined := strings.Join(parts, " "); joined != "" {
		return joined
	}
	return b.value(answers, m.ClinicalNoteComponent, "")
}

func (b *PayloadBuilder) priority(m *Mapping, answers map[string]interface{}) string {
	fixed := m.PriorityFixed
	if fixed == "" {
		fixed = PriorityRoutine
	}
	if m.PriorityMode == ModeField {
		return b.value(answers, m.PriorityComponent, fixed)
	}
	return fixed
}

// specimenRef resolves a row's reference, defaulting to "SP1".
func (b *PayloadBuilder) specimenRef(spec SpecimenSpec, answers map[string]interface{}) string {
	fixed := spec.RefFixed
	if fixed == "" {
		fixed = DefaultSpecimenRef
	}
	if spec.RefMode == ModeField {
		return b.value(answers, spec.RefComponent, fixed)
	}
	return fixed
}

// specimenSampleType resolves a row's sample type. In fixed mode a
// bound catalog item's code wins over the manual fallback value.
func (b *PayloadBuilder) specimenSampleType(spec SpecimenSpec, answers map[string]interface{}) string {
	fixed := spec.SampleTypeFixed
	if spec.SampleTypeMeta != nil {
		if item, ok := b.metaByID[*spec.SampleTypeMeta]; ok && item.Code != "" {
			fixed = item.Code
		}
	}
	if spec.SampleTypeMode == ModeField {
		return b.value(answers, spec.SampleTypeComponent, fixed)
	}
	return fixed
}

func (b *PayloadBuilder) specimenBarcode(spec SpecimenSpec, answers map[string]interface{}) string {
	return b.value(answers, spec.BarcodeComponent, "")
}

// lineCode resolves the service or profile code: bound catalog item
// first, manual fallback code second.
func (b *PayloadBuilder) lineCode(metaID *uuid.UUID, manual string) string {
	if metaID != nil {
		if item, ok := b.metaByID[*metaID]; ok && strings.TrimSpace(item.Code) != "" {
			return strings.TrimSpace(item.Code)
		}
	}
	return strings.TrimSpace(manual)
}

func requestLine(lineType, code, ref, barcode, sampleType, note string) map[string]interface{} {
	line := map[string]interface{}{
		"line_type": lineType,
		"quantity":  1,
	}
	if lineType == LineProfile {
		line["profile_code"] = code
	} else {
		line["service_code"] = code
	}
	if ref == "" {
		ref = DefaultSpecimenRef
	}
	line["specimen_ref"] = ref
	if barcode != "" {
		line["specimen_barcode"] = barcode
	}
	if sampleType != "" {
		line["specimen_sample_type"] = sampleType
	}
	if note != "" {
		line["note"] = note
	}
	return line
}

func (b *PayloadBuilder) flatLines(m *Mapping, answers map[string]interface{}) []map[string]interface{} {
	lines := make([]map[string]interface{}, 0, len(m.Lines))
	for _, l := range sortedLines(m.Lines) {
		var code string
		if l.LineType == LineProfile {
			code = b.lineCode(l.ProfileMeta, l.ProfileCode)
		} else {
			code = b.lineCode(l.ServiceMeta, l.ServiceCode)
		}
		if code == "" {
			continue
		}
		lines = append(lines, requestLine(
			l.LineType,
			code,
			b.specimenRef(l.Spec, answers),
			b.specimenBarcode(l.Spec, answers),
			b.specimenSampleType(l.Spec, answers),
			b.value(answers, l.NoteComponent, ""),
		))
	}
	return lines
}

// comboLines expands every combo into one line per specimen and bound
// catalog item, services before profiles.
func (b *PayloadBuilder) comboLines(m *Mapping, answers map[string]interface{}) []map[string]interface{} {
	var lines []map[string]interface{}
	for _, combo := range sortedCombos(m.Combos) {
		note := b.value(answers, combo.NoteComponent, "")
		for _, sp := range sortedSpecimens(combo.Specimens) {
			ref := b.specimenRef(sp.Spec, answers)
			barcode := b.specimenBarcode(sp.Spec, answers)
			sampleType := b.specimenSampleType(sp.Spec, answers)
			for _, id := range combo.ServiceMetaIDs {
				metaID := id
				if code := b.lineCode(&metaID, ""); code != "" {
					lines = append(lines, requestLine(LineService, code, ref, barcode, sampleType, note))
				}
			}
			for _, id := range combo.ProfileMetaIDs {
				metaID := id
				if code := b.lineCode(&metaID, ""); code != "" {
					lines = append(lines, requestLine(LineProfile, code, ref, barcode, sampleType, note))
				}
			}
		}
	}
	if lines == nil {
		lines = []map[string]interface{}{}
	}
	return lines
}

func sortedLines(in []*MappingLine) []*MappingLine {
	out := make([]*MappingLine, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func sortedCombos(in []*Combo) []*Combo {
	out := make([]*Combo, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func sortedSpecimens(in []*Specimen) []*Specimen {
	out := make([]*Specimen, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}
