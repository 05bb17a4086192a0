package wizard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/surgiform/surgiform/internal/domain/consent"
	"github.com/surgiform/surgiform/internal/domain/intake"
	"github.com/surgiform/surgiform/internal/platform/blobstore"
	"github.com/surgiform/surgiform/internal/platform/events"
	"github.com/surgiform/surgiform/internal/platform/gateway"
	"github.com/surgiform/surgiform/internal/platform/pdfdoc"
	"github.com/surgiform/surgiform/internal/platform/statestore"
)

// Backend is the part of the generation backend the wizard calls.
type Backend interface {
	Generate(ctx context.Context, req intake.ConsentRequest) (*gateway.GenerateResponse, error)
	Submit(ctx context.Context, sub gateway.Submission) (*gateway.SubmitResponse, error)
	Chat(ctx context.Context, req gateway.ChatRequest) (*gateway.ChatResponse, error)
	Health(ctx context.Context) error
}

// Assembler renders consent documents.
type Assembler interface {
	Assemble(info pdfdoc.PatientInfo, items []consent.Item, sigs pdfdoc.Signatures) (*pdfdoc.Document, error)
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source used for file names and timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithValidationTTL drops the cached validation state of a session that
// has not been touched for d. It is normally the state store TTL.
func WithValidationTTL(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.validationTTL = d
		}
	}
}

const (
	defaultValidationTTL  = 24 * time.Hour
	archiveCleanupTimeout = 10 * time.Second
)

type validationEntry struct {
	state    *intake.ValidationState
	lastSeen time.Time
}

type Service struct {
	store     statestore.Store
	backend   Backend
	assembler Assembler
	blobs     blobstore.BlobStore
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time

	mu            sync.Mutex
	validation    map[string]*validationEntry
	validationTTL time.Duration
	lastSweep     time.Time
}

func NewService(store statestore.Store, backend Backend, assembler Assembler, blobs blobstore.BlobStore, publisher events.Publisher, logger zerolog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:         store,
		backend:       backend,
		assembler:     assembler,
		blobs:         blobs,
		publisher:     publisher,
		logger:        logger.With().Str("component", "wizard").Logger(),
		now:           time.Now,
		validation:    make(map[string]*validationEntry),
		validationTTL: defaultValidationTTL,
	}
	for _, o := range opts {
		o(s)
	}
	s.lastSweep = s.now()
	return s
}

// -- Session --

func (s *Service) CreateSession(_ context.Context) string {
	id := uuid.New().String()
	s.logger.Info().Str("session_id", id).Msg("session created")
	return id
}

// ClearSession removes every persisted key and the validation state.
func (s *Service) ClearSession(ctx context.Context, sessionID string) error {
	if err := s.store.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.dropValidation(sessionID)
	return nil
}

// validationFor returns the cached validation state of a session, creating
// it when missing. Callers only ask for sessions with stored state; entries
// idle longer than validationTTL are swept.
func (s *Service) validationFor(sessionID string) (*intake.ValidationState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) > s.validationTTL {
		for id, e := range s.validation {
			if now.Sub(e.lastSeen) > s.validationTTL {
				delete(s.validation, id)
			}
		}
		s.lastSweep = now
	}

	if e, ok := s.validation[sessionID]; ok {
		e.lastSeen = now
		return e.state, false
	}
	v := intake.NewValidationState()
	v.OnChange(func(step intake.Step, errs intake.FieldErrors) {
		s.logger.Debug().
			Str("session_id", sessionID).
			Str("step", string(step)).
			Strs("invalid_fields", errs.InvalidFields()).
			Msg("step validated")
	})
	s.validation[sessionID] = &validationEntry{state: v, lastSeen: now}
	return v, true
}

func (s *Service) dropValidation(sessionID string) {
	s.mu.Lock()
	delete(s.validation, sessionID)
	s.mu.Unlock()
}

// -- Form --

func (s *Service) GetForm(ctx context.Context, sessionID string) (intake.FormState, error) {
	var form intake.FormState
	if err := s.load(ctx, sessionID, statestore.KeyFormData, &form); err != nil {
		return nil, err
	}
	return form, nil
}

// UpdateForm merges the fields into the stored form and validates the
// named step. The form is saved even when the step is invalid so the
// wizard can resume with what was typed.
func (s *Service) UpdateForm(ctx context.Context, sessionID string, upd FormUpdate) (*FormResult, error) {
	if upd.Step != "" && !intake.IsKnownStep(upd.Step) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStep, upd.Step)
	}

	form, err := s.GetForm(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrMissingState) {
		return nil, err
	}
	if form == nil {
		form = intake.FormState{}
	}
	for k, v := range upd.Fields {
		form[k] = v
	}
	if err := statestore.SetJSON(ctx, s.store, sessionID, statestore.KeyFormData, form); err != nil {
		return nil, fmt.Errorf("save form: %w", err)
	}

	res := &FormResult{Form: form, Step: upd.Step, Valid: true}
	if upd.Step != "" {
		v, _ := s.validationFor(sessionID)
		res.Errors = v.Validate(upd.Step, form)
		res.Valid = len(res.Errors) == 0
	}
	return res, nil
}

// Validation returns the per-step status. A session this process has not
// seen yet is validated against the stored form first; a session without a
// stored form reports every step unchecked.
func (s *Service) Validation(ctx context.Context, sessionID string) ([]intake.StepStatus, error) {
	form, err := s.GetForm(ctx, sessionID)
	switch {
	case errors.Is(err, ErrMissingState):
		s.dropValidation(sessionID)
		return intake.NewValidationState().Snapshot(), nil
	case err != nil:
		return nil, err
	}
	v, fresh := s.validationFor(sessionID)
	if fresh {
		v.ValidateAll(form)
	}
	return v.Snapshot(), nil
}

// -- Consent --

// Generate maps the stored form, asks the backend for consent content and
// stores the flat result. Any previous conversation is discarded.
func (s *Service) Generate(ctx context.Context, sessionID string) (*ConsentData, error) {
	form, err := s.GetForm(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	req := intake.MapFormToRequest(form)

	start := s.now()
	resp, err := s.backend.Generate(ctx, req)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("consent generation failed")
		return nil, err
	}

	data := &ConsentData{
		Consents:    normalize(resp.Consents),
		References:  []consent.Reference(resp.References),
		GeneratedAt: s.now().UTC(),
	}
	if err := statestore.SetJSON(ctx, s.store, sessionID, statestore.KeyConsentData, data); err != nil {
		return nil, fmt.Errorf("save consent: %w", err)
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Int("items", len(data.Consents)).
		Dur("elapsed", s.now().Sub(start)).
		Msg("consent generated")
	return data, nil
}

func (s *Service) GetConsent(ctx context.Context, sessionID string) (*ConsentData, error) {
	var data ConsentData
	if err := s.load(ctx, sessionID, statestore.KeyConsentData, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// ReplaceConsent stores the clinician-edited items. Items are normalized
// through the nested form, so every stored item carries its stable key and
// unknown items are dropped.
func (s *Service) ReplaceConsent(ctx context.Context, sessionID string, upd ConsentUpdate) (*ConsentData, error) {
	data, err := s.GetConsent(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	data.Consents = normalize(upd.Consents)
	if upd.References != nil {
		data.References = []consent.Reference(*upd.References)
	}
	if err := statestore.SetJSON(ctx, s.store, sessionID, statestore.KeyConsentData, data); err != nil {
		return nil, fmt.Errorf("save consent: %w", err)
	}
	return data, nil
}

// Sections returns the stored consent in nested form.
func (s *Service) Sections(ctx context.Context, sessionID string) (*SectionsView, error) {
	data, err := s.GetConsent(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SectionsView{
		Consents:   consent.ToNested(data.Consents),
		References: consent.NestReferences(data.References),
	}, nil
}

// Chat sends one refinement turn and applies the revised content when the
// backend reports a modification.
func (s *Service) Chat(ctx context.Context, sessionID string, in ChatInput) (*ChatResult, error) {
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return nil, ErrEmptyMessage
	}
	data, err := s.GetConsent(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	resp, err := s.backend.Chat(ctx, gateway.ChatRequest{
		Message:        msg,
		ConversationID: data.ConversationID,
		History:        data.History,
		Consents:       consent.ToNested(data.Consents),
		References:     consent.NestReferences(data.References),
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("chat failed")
		return nil, err
	}

	data.ConversationID = resp.ConversationID
	if resp.History != nil {
		data.History = resp.History
	} else {
		data.History = append(data.History,
			gateway.ChatMessage{Role: "user", Content: msg},
			gateway.ChatMessage{Role: "assistant", Content: resp.Message})
	}
	modified := resp.IsContentModified && len(resp.UpdatedConsents) > 0
	if modified {
		data.Consents = normalize(resp.UpdatedConsents)
		if len(resp.UpdatedReferences) > 0 {
			data.References = []consent.Reference(resp.UpdatedReferences)
		}
	}
	if err := statestore.SetJSON(ctx, s.store, sessionID, statestore.KeyConsentData, data); err != nil {
		return nil, fmt.Errorf("save consent: %w", err)
	}

	return &ChatResult{
		Message:           resp.Message,
		ConversationID:    resp.ConversationID,
		IsContentModified: modified,
		Consents:          data.Consents,
	}, nil
}

// -- Signatures & document --

func (s *Service) SetSignatures(ctx context.Context, sessionID string, sigs SignatureBundle) error {
	if err := statestore.SetJSON(ctx, s.store, sessionID, statestore.KeyImageData, sigs); err != nil {
		return fmt.Errorf("save signatures: %w", err)
	}
	return nil
}

// Rendered is an assembled document ready to be served or archived.
type Rendered struct {
	Document *pdfdoc.Document
	FileName string
	Request  intake.ConsentRequest
	Consent  *ConsentData
	Sigs     SignatureBundle
}

// Render assembles the PDF from the stored state. The consent is required;
// a missing form prints an empty patient block and missing signatures are
// left out.
func (s *Service) Render(ctx context.Context, sessionID string) (*Rendered, error) {
	data, err := s.GetConsent(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	form, err := s.GetForm(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrMissingState) {
		return nil, err
	}
	var sigs SignatureBundle
	if err := s.load(ctx, sessionID, statestore.KeyImageData, &sigs); err != nil && !errors.Is(err, ErrMissingState) {
		return nil, err
	}

	req := intake.MapFormToRequest(form)
	doc, err := s.assembler.Assemble(PatientInfo(req), data.Consents, sigs)
	if err != nil {
		return nil, fmt.Errorf("assemble document: %w", err)
	}
	return &Rendered{
		Document: doc,
		FileName: DocumentFileName(req.RegistrationNo, s.now()),
		Request:  req,
		Consent:  data,
		Sigs:     sigs,
	}, nil
}

// Submit validates every step, archives the rendered PDF, hands the final
// record to the backend and publishes consent.submitted. The archived PDF
// is removed again when the backend rejects the submission. A failed
// publish is logged; the submission itself has already succeeded.
func (s *Service) Submit(ctx context.Context, sessionID string) (*SubmitResult, error) {
	form, err := s.GetForm(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	v, _ := s.validationFor(sessionID)
	if !v.ValidateAll(form) {
		var invalid []intake.StepStatus
		for _, st := range v.Snapshot() {
			if !st.Valid {
				invalid = append(invalid, st)
			}
		}
		return nil, &IncompleteFormError{Steps: invalid}
	}

	r, err := s.Render(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	meta, err := s.blobs.Upload(ctx, blobstore.BlobMetadata{
		FileName:    r.FileName,
		ContentType: "application/pdf",
		SessionID:   sessionID,
		Category:    blobstore.CategoryConsentForm,
		Tags:        map[string]string{"registration_no": r.Request.RegistrationNo},
	}, bytes.NewReader(r.Document.Data))
	if err != nil {
		return nil, fmt.Errorf("archive document: %w", err)
	}

	ack, err := s.backend.Submit(ctx, gateway.Submission{
		SessionID:      sessionID,
		Request:        r.Request,
		Consents:       r.Consent.Consents,
		References:     r.Consent.References,
		DocumentID:     meta.ID,
		DocumentSHA256: meta.Hash,
		Signatures:     gateway.SignatureFlags{Patient: r.Sigs.Patient != "", Doctor: r.Sigs.Doctor != ""},
		SubmittedAt:    s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Str("document_id", meta.ID).Msg("submission failed")
		s.discardArchive(ctx, meta.ID)
		return nil, err
	}

	ev, err := events.NewEvent(events.TypeConsentSubmitted, "submission", ack.SubmissionID, SubmittedPayload{
		SessionID:      sessionID,
		SubmissionID:   ack.SubmissionID,
		DocumentID:     meta.ID,
		DocumentSHA256: meta.Hash,
		RegistrationNo: r.Request.RegistrationNo,
		PageCount:      r.Document.PageCount(),
	})
	if err == nil {
		err = s.publisher.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("publish consent.submitted")
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Str("submission_id", ack.SubmissionID).
		Str("document_id", meta.ID).
		Msg("consent submitted")

	return &SubmitResult{
		SubmissionID: ack.SubmissionID,
		Status:       ack.Status,
		Message:      ack.Message,
		Document:     meta,
	}, nil
}

// discardArchive removes a document whose submission failed. It runs even
// when ctx has been cancelled by the failed call.
func (s *Service) discardArchive(ctx context.Context, documentID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveCleanupTimeout)
	defer cancel()
	if err := s.blobs.Delete(ctx, documentID); err != nil {
		s.logger.Error().Err(err).Str("document_id", documentID).Msg("remove unsubmitted document")
	}
}

// BackendHealth probes the generation backend.
func (s *Service) BackendHealth(ctx context.Context) error {
	return s.backend.Health(ctx)
}

func (s *Service) load(ctx context.Context, sessionID string, key statestore.Key, v interface{}) error {
	err := statestore.GetJSON(ctx, s.store, sessionID, key, v)
	if errors.Is(err, statestore.ErrNotFound) {
		return &MissingStateError{Key: key}
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	return nil
}

func normalize(items []consent.Item) []consent.Item {
	out := consent.ToFlat(consent.ToNested(items))
	if out == nil {
		out = []consent.Item{}
	}
	return out
}
