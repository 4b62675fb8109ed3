package lis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mform/mform/internal/domain/form"
	"github.com/mform/mform/internal/domain/submission"
)

// labClient is the wire surface a push or sync needs from an endpoint.
// Satisfied by *Client; swapped in tests.
type labClient interface {
	PushRequest(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error)
	FetchMeta(ctx context.Context, itemType string) ([]MetaRow, error)
}

type Service struct {
	endpoints  EndpointRepository
	meta       MetaItemRepository
	mappings   MappingRepository
	subs       submission.Repository
	forms      form.FormRepository
	components form.ComponentRepository
	clientFor  func(*Endpoint) labClient
	now        func() time.Time
	log        zerolog.Logger
}

func NewService(endpoints EndpointRepository, meta MetaItemRepository, mappings MappingRepository,
	subs submission.Repository, forms form.FormRepository, components form.ComponentRepository,
	log zerolog.Logger) *Service {
	return &Service{
		endpoints:  endpoints,
		meta:       meta,
		mappings:   mappings,
		subs:       subs,
		forms:      forms,
		components: components,
		clientFor:  func(e *Endpoint) labClient { return NewClient(e) },
		now:        time.Now,
		log:        log,
	}
}

// =========== Endpoints ===========

func validateEndpoint(e *Endpoint) error {
	if strings.TrimSpace(e.Name) == "" {
		return configErrorf("name is required")
	}
	if strings.TrimSpace(e.BaseURL) == "" || strings.TrimSpace(e.EndpointCode) == "" {
		return configErrorf("base URL and endpoint code are required")
	}
	if e.AuthType == "" {
		e.AuthType = AuthAPIKey
	}
	if !validAuthTypes[e.AuthType] {
		return configErrorf("unknown auth type '%s'", e.AuthType)
	}
	if e.TimeoutSeconds == 0 {
		e.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if e.TimeoutSeconds < 0 {
		return configErrorf("timeout must be positive")
	}
	return nil
}

func (s *Service) CreateEndpoint(ctx context.Context, e *Endpoint) error {
	if err := validateEndpoint(e); err != nil {
		return err
	}
	return s.endpoints.Create(ctx, e)
}

func (s *Service) GetEndpoint(ctx context.Context, id uuid.UUID) (*Endpoint, error) {
	return s.endpoints.GetByID(ctx, id)
}

func (s *Service) UpdateEndpoint(ctx context.Context, e *Endpoint) error {
	if err := validateEndpoint(e); err != nil {
		return err
	}
	return s.endpoints.Update(ctx, e)
}

func (s *Service) DeleteEndpoint(ctx context.Context, id uuid.UUID) error {
	if _, err := s.endpoints.GetByID(ctx, id); err != nil {
		return err
	}
	return s.endpoints.Delete(ctx, id)
}

func (s *Service) ListEndpoints(ctx context.Context, limit, offset int) ([]*Endpoint, int, error) {
	return s.endpoints.List(ctx, limit, offset)
}

func (s *Service) ListMeta(ctx context.Context, endpointID uuid.UUID, itemType string) ([]*MetaItem, error) {
	return s.meta.ListByEndpoint(ctx, endpointID, itemType)
}

// =========== Metadata sync ===========

// SyncMetadata refreshes the endpoint's catalog from the lab system.
// The outcome, success or failure, is always recorded on the endpoint.
func (s *Service) SyncMetadata(ctx context.Context, endpointID uuid.UUID) (*Endpoint, error) {
	e, err := s.endpoints.GetByID(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	client := s.clientFor(e)

	counts := map[string]int{}
	var syncErr error
	for _, itemType := range []string{ItemSampleType, ItemService, ItemProfile} {
		n, err := s.syncItemType(ctx, client, e.ID, itemType)
		if err != nil {
			syncErr = err
			break
		}
		counts[itemType] = n
	}

	now := s.now()
	message := fmt.Sprintf("OK: sample_types=%d, services=%d, profiles=%d",
		counts[ItemSampleType], counts[ItemService], counts[ItemProfile])
	if syncErr != nil {
		message = truncate(syncErr.Error(), 512)
		s.log.Warn().Err(syncErr).Str("endpoint", e.Name).Msg("lis metadata sync failed")
	}
	if err := s.endpoints.SetSyncResult(ctx, e.ID, now, message); err != nil {
		return nil, err
	}
	e.MetadataSyncTime = &now
	e.MetadataSyncMessage = message
	return e, syncErr
}

func (s *Service) syncItemType(ctx context.Context, client labClient, endpointID uuid.UUID, itemType string) (int, error) {
	rows, err := client.FetchMeta(ctx, itemType)
	if err != nil {
		return 0, err
	}
	var seen []string
	for _, row := range rows {
		code := strings.TrimSpace(row.Code)
		if code == "" {
			continue
		}
		name := strings.TrimSpace(row.Name)
		if name == "" {
			name = code
		}
		item := &MetaItem{
			EndpointID:     endpointID,
			ItemType:       itemType,
			Code:           code,
			Name:           name,
			SampleTypeCode: strings.TrimSpace(row.SampleType),
			IsDefault:      row.IsDefault,
		}
		if err := s.meta.Upsert(ctx, item); err != nil {
			return 0, err
		}
		seen = append(seen, code)
	}
	if _, err := s.meta.DeactivateMissing(ctx, endpointID, itemType, seen); err != nil {
		return 0, err
	}
	return len(seen), nil
}

// =========== Mappings ===========

func (s *Service) CreateMapping(ctx context.Context, m *Mapping) error {
	if err := s.validateMapping(ctx, m); err != nil {
		return err
	}
	return s.mappings.Create(ctx, m)
}

func (s *Service) UpdateMapping(ctx context.Context, m *Mapping) error {
	if _, err := s.mappings.GetByID(ctx, m.ID); err != nil {
		return err
	}
	if err := s.validateMapping(ctx, m); err != nil {
		return err
	}
	return s.mappings.Update(ctx, m)
}

func (s *Service) GetMapping(ctx context.Context, id uuid.UUID) (*Mapping, error) {
	return s.mappings.GetByID(ctx, id)
}

func (s *Service) DeleteMapping(ctx context.Context, id uuid.UUID) error {
	if _, err := s.mappings.GetByID(ctx, id); err != nil {
		return err
	}
	return s.mappings.Delete(ctx, id)
}

func (s *Service) ListMappings(ctx context.Context, limit, offset int) ([]*Mapping, int, error) {
	return s.mappings.List(ctx, limit, offset)
}

func (s *Service) validateMapping(ctx context.Context, m *Mapping) error {
	if strings.TrimSpace(m.Name) == "" {
		return configErrorf("name is required")
	}
	if m.FormID == uuid.Nil || m.EndpointID == uuid.Nil {
		return configErrorf("form and endpoint are required")
	}
	if len(m.Lines) == 0 && len(m.Combos) == 0 {
		return configErrorf("mapping needs at least one line or combo")
	}
	if m.PriorityMode == "" {
		m.PriorityMode = ModeFixed
	}
	if m.PriorityMode != ModeFixed && m.PriorityMode != ModeField {
		return configErrorf("unknown priority mode '%s'", m.PriorityMode)
	}
	if m.PriorityFixed == "" {
		m.PriorityFixed = PriorityRoutine
	}
	if !validPriorities[m.PriorityFixed] {
		return configErrorf("unknown priority '%s'", m.PriorityFixed)
	}

	for _, l := range m.Lines {
		if l.LineType != LineService && l.LineType != LineProfile {
			return configErrorf("line '%s' has unknown type '%s'", l.Name, l.LineType)
		}
		if l.LineType == LineService && l.ServiceMeta == nil && strings.TrimSpace(l.ServiceCode) == "" {
			return configErrorf("line '%s' needs a service or a manual service code", l.Name)
		}
		if l.LineType == LineProfile && l.ProfileMeta == nil && strings.TrimSpace(l.ProfileCode) == "" {
			return configErrorf("line '%s' needs a profile or a manual profile code", l.Name)
		}
		if err := validateSpec(l.Spec); err != nil {
			return err
		}
	}
	for _, combo := range m.Combos {
		if len(combo.ServiceMetaIDs) == 0 && len(combo.ProfileMetaIDs) == 0 {
			return configErrorf("combo '%s' needs at least one service or profile", combo.Name)
		}
		if len(combo.Specimens) == 0 {
			return configErrorf("combo '%s' needs at least one specimen", combo.Name)
		}
		for _, sp := range combo.Specimens {
			if err := validateSpec(sp.Spec); err != nil {
				return err
			}
		}
	}

	if m.Active {
		existing, err := s.mappings.GetActiveByForm(ctx, m.FormID)
		switch {
		case errors.Is(err, ErrNoActiveMapping):
		case err != nil:
			return err
		case existing.ID != m.ID:
			return configErrorf("form already has an active mapping '%s'", existing.Name)
		}
	}

	components, err := s.components.ListByForm(ctx, m.FormID)
	if err != nil {
		return err
	}
	known := make(map[uuid.UUID]bool, len(components))
	for _, c := range components {
		known[c.ID] = true
	}
	for _, id := range m.ComponentRefs() {
		if !known[id] {
			return configErrorf("component %s does not belong to the mapping's form", id)
		}
	}

	catalog, err := s.meta.ListByEndpoint(ctx, m.EndpointID, "")
	if err != nil {
		return err
	}
	knownMeta := make(map[uuid.UUID]bool, len(catalog))
	for _, item := range catalog {
		knownMeta[item.ID] = true
	}
	for _, id := range m.MetaRefs() {
		if !knownMeta[id] {
			return configErrorf("metadata item %s does not belong to the mapping's endpoint", id)
		}
	}
	return nil
}

func validateSpec(spec SpecimenSpec) error {
	if spec.RefMode != "" && spec.RefMode != ModeFixed && spec.RefMode != ModeField {
		return configErrorf("unknown specimen ref mode '%s'", spec.RefMode)
	}
	if spec.SampleTypeMode != "" && spec.SampleTypeMode != ModeFixed && spec.SampleTypeMode != ModeField {
		return configErrorf("unknown sample type mode '%s'", spec.SampleTypeMode)
	}
	if spec.SampleTypeFixed != "" && !ValidSampleType(spec.SampleTypeFixed) {
		return configErrorf("unknown sample type '%s'", spec.SampleTypeFixed)
	}
	return nil
}

// =========== Push ===========

// PushOutcome is one submission's result within a bulk push.
type PushOutcome struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	Name         string    `json:"name"`
	OK           bool      `json:"ok"`
	RequestNo    string    `json:"request_no,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// PushReport aggregates a bulk push.
type PushReport struct {
	Success  int           `json:"success"`
	Failed   int           `json:"failed"`
	Outcomes []PushOutcome `json:"outcomes"`
}

// Summary renders the operator-facing one-liner, naming up to ten
// failed submissions.
func (r *PushReport) Summary() string {
	msg := fmt.Sprintf("LIS push done. Success: %d, Failed: %d", r.Success, r.Failed)
	var failed []string
	for _, o := range r.Outcomes {
		if !o.OK && len(failed) < 10 {
			failed = append(failed, o.Name)
		}
	}
	if len(failed) > 0 {
		msg += " Failed submissions: " + strings.Join(failed, ", ")
	}
	return msg
}

// PushSubmissions sends each selected submission to its form's active
// mapping. Failures are isolated per submission and recorded on it.
func (s *Service) PushSubmissions(ctx context.Context, ids []uuid.UUID) (*PushReport, error) {
	subs, err := s.subs.ListWithLines(ctx, nil, ids)
	if err != nil {
		return nil, err
	}
	report := &PushReport{}
	for _, sub := range subs {
		outcome := s.pushOne(ctx, sub)
		if outcome.OK {
			report.Success++
		} else {
			report.Failed++
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	s.log.Info().Int("success", report.Success).Int("failed", report.Failed).Msg("lis push finished")
	return report, nil
}

func (s *Service) pushOne(ctx context.Context, sub *submission.Submission) PushOutcome {
	outcome := PushOutcome{SubmissionID: sub.ID, Name: sub.Name}

	mapping, reqNo, err := s.sendToLab(ctx, sub)
	now := s.now()
	result := submission.PushResult{At: now}
	if mapping != nil {
		result.MappingID = &mapping.ID
	}
	if err != nil {
		outcome.Error = err.Error()
		result.State = submission.PushStateFailed
		result.Message = truncate(err.Error(), 1024)
	} else {
		outcome.OK = true
		outcome.RequestNo = reqNo
		result.State = submission.PushStateSuccess
		result.RequestNo = reqNo
	}
	if err := s.subs.SetPushResult(ctx, sub.ID, result); err != nil {
		s.log.Error().Err(err).Str("submission", sub.Name).Msg("record push result")
	}
	return outcome
}

func (s *Service) sendToLab(ctx context.Context, sub *submission.Submission) (*Mapping, string, error) {
	mapping, err := s.mappings.GetActiveByForm(ctx, sub.FormID)
	if errors.Is(err, ErrNoActiveMapping) {
		name := sub.FormID.String()
		if f, ferr := s.forms.GetByID(ctx, sub.FormID); ferr == nil {
			name = f.Name
		}
		return nil, "", fmt.Errorf("no active LIS mapping found for form '%s'", name)
	}
	if err != nil {
		return nil, "", err
	}

	endpoint, err := s.endpoints.GetByID(ctx, mapping.EndpointID)
	if err != nil {
		return mapping, "", err
	}
	if !endpoint.Active {
		return mapping, "", configErrorf("endpoint '%s' is inactive", endpoint.Name)
	}

	components, err := s.components.ListByForm(ctx, sub.FormID)
	if err != nil {
		return mapping, "", err
	}
	catalog, err := s.meta.ListByEndpoint(ctx, endpoint.ID, "")
	if err != nil {
		return mapping, "", err
	}

	payload := NewPayloadBuilder(components, catalog).Build(mapping, answerMap(sub))
	response, err := s.clientFor(endpoint).PushRequest(ctx, payload)
	if err != nil {
		return mapping, "", err
	}
	if ok, _ := response["ok"].(bool); !ok {
		detail, _ := response["error"].(string)
		if detail == "" {
			detail = "unknown error"
		}
		return mapping, "", externalErrorf("%s", detail)
	}
	return mapping, requestNumber(response), nil
}

// answerMap decodes the stored answer snapshot, falling back to the
// line breakdown when the snapshot is missing or unreadable.
func answerMap(sub *submission.Submission) map[string]interface{} {
	var answers map[string]interface{}
	if sub.AnswerJSON != "" {
		if err := json.Unmarshal([]byte(sub.AnswerJSON), &answers); err == nil && len(answers) > 0 {
			return answers
		}
	}
	answers = make(map[string]interface{}, len(sub.Lines))
	for _, line := range sub.Lines {
		if line.Key != "" {
			answers[line.Key] = line.ValueText
		}
	}
	return answers
}

func requestNumber(response map[string]interface{}) string {
	request, _ := response["request"].(map[string]interface{})
	switch v := request["request_no"].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}
