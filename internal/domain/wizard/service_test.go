package wizard

import (
	"context"
	"errors"
	"testing"
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

// -- Fakes --

type fakeBackend struct {
	generated  []intake.ConsentRequest
	submitted  []gateway.Submission
	chats      []gateway.ChatRequest
	generate   *gateway.GenerateResponse
	chat       *gateway.ChatResponse
	err        error
	healthErr  error
	submission string
	onSubmit   func()
}

func (f *fakeBackend) Generate(_ context.Context, req intake.ConsentRequest) (*gateway.GenerateResponse, error) {
	f.generated = append(f.generated, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.generate, nil
}

func (f *fakeBackend) Submit(_ context.Context, sub gateway.Submission) (*gateway.SubmitResponse, error) {
	f.submitted = append(f.submitted, sub)
	if f.onSubmit != nil {
		f.onSubmit()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.SubmitResponse{SubmissionID: f.submission, Status: "received"}, nil
}

func (f *fakeBackend) Chat(_ context.Context, req gateway.ChatRequest) (*gateway.ChatResponse, error) {
	f.chats = append(f.chats, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.chat, nil
}

func (f *fakeBackend) Health(_ context.Context) error {
	return f.healthErr
}

type fakeAssembler struct {
	calls []pdfdoc.PatientInfo
	items [][]consent.Item
	sigs  []pdfdoc.Signatures
	err   error
}

func (f *fakeAssembler) Assemble(info pdfdoc.PatientInfo, items []consent.Item, sigs pdfdoc.Signatures) (*pdfdoc.Document, error) {
	f.calls = append(f.calls, info)
	f.items = append(f.items, items)
	f.sigs = append(f.sigs, sigs)
	if f.err != nil {
		return nil, f.err
	}
	return &pdfdoc.Document{Pages: []pdfdoc.Page{{}}, Data: []byte("%PDF-1.3 test")}, nil
}

type testDeps struct {
	svc       *Service
	store     *statestore.MemoryStore
	backend   *fakeBackend
	assembler *fakeAssembler
	blobs     *blobstore.InMemoryBlobStore
	publisher *events.MemoryPublisher
}

var testNow = time.Date(2024, 1, 31, 9, 30, 0, 0, time.UTC)

func newTestService() *testDeps {
	d := &testDeps{
		store: statestore.NewMemoryStore(0),
		backend: &fakeBackend{
			submission: "sub-1",
			generate: &gateway.GenerateResponse{
				Consents: consent.Items{
					{Title: "예정된 수술을 하지 않을 경우의 예후", Description: "악화될 수 있음", Category: consent.CategoryPrognosis},
					{Title: "진단/수술 관련 사망 위험성", Description: "20%", Category: consent.CategoryRisk},
				},
				References: consent.ReferenceList{{Key: consent.KeyMortalityRisk, Title: "P-POSSUM", URL: "https://example.org", Text: "x"}},
			},
		},
		assembler: &fakeAssembler{},
		blobs:     blobstore.NewInMemoryBlobStore(),
		publisher: events.NewMemoryPublisher(),
	}
	d.svc = NewService(d.store, d.backend, d.assembler, d.blobs, d.publisher, zerolog.Nop(),
		WithClock(func() time.Time { return testNow }))
	return d
}

func completeForm() intake.FormState {
	return intake.FormState{
		intake.FieldPatientName:        "홍길동",
		intake.FieldPatientAge:         "45세",
		intake.FieldPatientGender:      "여",
		intake.FieldRegistrationNumber: "12-345",
		intake.FieldDiagnosis:          "담석증",
		intake.FieldSurgeryName:        "복강경 담낭절제술",
		intake.FieldScheduledDate:      "2024-02-01",
		intake.FieldDiabetes:           true,
	}
}

func seedForm(t *testing.T, d *testDeps, id string, form intake.FormState) {
	t.Helper()
	if err := statestore.SetJSON(context.Background(), d.store, id, statestore.KeyFormData, form); err != nil {
		t.Fatal(err)
	}
}

// -- Session & Form --

func TestService_CreateAndClearSession(t *testing.T) {
	d := newTestService()
	ctx := context.Background()
	id := d.svc.CreateSession(ctx)
	if id == "" {
		t.Fatal("expected session id")
	}
	seedForm(t, d, id, completeForm())

	if err := d.svc.ClearSession(ctx, id); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	if _, err := d.svc.GetForm(ctx, id); !errors.Is(err, ErrMissingState) {
		t.Errorf("expected missing state after clear, got %v", err)
	}
}

func TestService_UpdateForm_MergesAndValidates(t *testing.T) {
	d := newTestService()
	ctx := context.Background()
	id := d.svc.CreateSession(ctx)

	res, err := d.svc.UpdateForm(ctx, id, FormUpdate{
		Step:   intake.StepPatient,
		Fields: intake.FormState{intake.FieldPatientName: "홍길동"},
	})
	if err != nil {
		t.Fatalf("UpdateForm: %v", err)
	}
	if res.Valid {
		t.Error("expected patient step to be invalid with only a name")
	}
	if _, ok := res.Errors[intake.FieldPatientAge]; !ok {
		t.Errorf("expected age error, got %v", res.Errors)
	}

	res, err = d.svc.UpdateForm(ctx, id, FormUpdate{
		Step: intake.StepPatient,
		Fields: intake.FormState{
			intake.FieldPatientAge:         "45",
			intake.FieldPatientGender:      "F",
			intake.FieldRegistrationNumber: "123",
		},
	})
	if err != nil {
		t.Fatalf("UpdateForm: %v", err)
	}
	if !res.Valid {
		t.Errorf("expected valid step, got %v", res.Errors)
	}
	if res.Form[intake.FieldPatientName] != "홍길동" {
		t.Errorf("expected earlier fields to be kept, got %v", res.Form)
	}

	stored, err := d.svc.GetForm(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 4 {
		t.Errorf("expected 4 stored fields, got %v", stored)
	}
}

func TestService_UpdateForm_UnknownStep(t *testing.T) {
	d := newTestService()
	_, err := d.svc.UpdateForm(context.Background(), "s1", FormUpdate{Step: "payment"})
	if !errors.Is(err, ErrUnknownStep) {
		t.Errorf("expected ErrUnknownStep, got %v", err)
	}
}

func TestService_Validation_RebuildsFromStoredForm(t *testing.T) {
	d := newTestService()
	seedForm(t, d, "s1", completeForm())

	steps, err := d.svc.Validation(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != len(intake.Steps) {
		t.Fatalf("expected %d steps, got %d", len(intake.Steps), len(steps))
	}
	for _, st := range steps {
		if !st.Checked || !st.Valid {
			t.Errorf("expected step %s checked and valid, got %+v", st.Step, st)
		}
	}
}

func TestService_Validation_UnknownSessionsAreNotCached(t *testing.T) {
	d := newTestService()
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		steps, err := d.svc.Validation(ctx, uuid.New().String())
		if err != nil {
			t.Fatal(err)
		}
		for _, st := range steps {
			if st.Checked {
				t.Fatalf("expected unchecked steps for an empty session, got %+v", st)
			}
		}
	}
	if n := len(d.svc.validation); n != 0 {
		t.Errorf("expected no cached validation for unknown sessions, got %d", n)
	}

	id := d.svc.CreateSession(ctx)
	if n := len(d.svc.validation); n != 0 {
		t.Errorf("a new session has no state to validate yet, got %d entries", n)
	}
	if _, err := d.svc.UpdateForm(ctx, id, FormUpdate{Step: intake.StepPatient, Fields: completeForm()}); err != nil {
		t.Fatal(err)
	}
	if n := len(d.svc.validation); n != 1 {
		t.Errorf("expected one cached entry after a saved form, got %d", n)
	}
}

func TestService_Validation_EvictsIdleSessions(t *testing.T) {
	d := newTestService()
	now := testNow
	d.svc = NewService(d.store, d.backend, d.assembler, d.blobs, d.publisher, zerolog.Nop(),
		WithClock(func() time.Time { return now }), WithValidationTTL(time.Hour))
	ctx := context.Background()

	seedForm(t, d, "old", completeForm())
	if _, err := d.svc.Validation(ctx, "old"); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Hour)
	seedForm(t, d, "new", completeForm())
	if _, err := d.svc.Validation(ctx, "new"); err != nil {
		t.Fatal(err)
	}
	if _, ok := d.svc.validation["old"]; ok {
		t.Error("expected idle session to be evicted")
	}
	if _, ok := d.svc.validation["new"]; !ok {
		t.Error("expected active session to stay cached")
	}
}

func TestService_Validation_DropsExpiredSession(t *testing.T) {
	d := newTestService()
	ctx := context.Background()
	seedForm(t, d, "s1", completeForm())
	if _, err := d.svc.Validation(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if err := d.store.Clear(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := d.svc.Validation(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := d.svc.validation["s1"]; ok {
		t.Error("expected validation state dropped once the stored form is gone")
	}
}

// -- Consent --

func TestService_Generate(t *testing.T) {
	d := newTestService()
	ctx := context.Background()
	seedForm(t, d, "s1", completeForm())

	data, err := d.svc.Generate(ctx, "s1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(d.backend.generated) != 1 {
		t.Fatalf("expected one backend call, got %d", len(d.backend.generated))
	}
	req := d.backend.generated[0]
	if req.Gender != intake.GenderFemale || req.RegistrationNo != "12345" || req.Age != 45 {
		t.Errorf("unexpected mapped request %+v", req)
	}
	if len(data.Consents) != 2 || data.Consents[0].Key != consent.KeyPrognosis || data.Consents[1].Key != consent.KeyMortalityRisk {
		t.Errorf("expected keyed items in field order, got %+v", data.Consents)
	}

	stored, err := d.svc.GetConsent(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Consents) != 2 || !stored.GeneratedAt.Equal(testNow) {
		t.Errorf("unexpected stored consent %+v", stored)
	}
}

func TestService_Generate_MissingForm(t *testing.T) {
	d := newTestService()
	_, err := d.svc.Generate(context.Background(), "s1")
	var missing *MissingStateError
	if !errors.As(err, &missing) || missing.Key != statestore.KeyFormData {
		t.Errorf("expected missing form_data, got %v", err)
	}
	if len(d.backend.generated) != 0 {
		t.Error("backend must not be called without a form")
	}
}

func TestService_Generate_BackendError(t *testing.T) {
	d := newTestService()
	seedForm(t, d, "s1", completeForm())
	d.backend.err = &gateway.Error{Kind: gateway.KindTimeout, Op: "generate"}

	_, err := d.svc.Generate(context.Background(), "s1")
	if !errors.Is(err, gateway.ErrTimeout) {
		t.Errorf("expected timeout, got %v", err)
	}
	if _, err := d.svc.GetConsent(context.Background(), "s1"); !errors.Is(err, ErrMissingState) {
		t.Errorf("expected no consent stored after failure, got %v", err)
	}
}

func TestService_ReplaceConsent(t *testing.T) {
	d := newTestService()
	ctx := context.Background()
	seedForm(t, d, "s1", completeForm())
	if _, err := d.svc.Generate(ctx, "s1"); err != nil {
		t.Fatal(err)
	}

	data, err := d.svc.ReplaceConsent(ctx, "s1", ConsentUpdate{Consents: consent.Items{
		{Key: consent.KeyMortalityRisk, Title: "edited", Description: "5%", Category: consent.CategoryRisk},
		{Title: "unknown", Description: "dropped", Category: "기타"},
		{Key: consent.KeyEmergencyMeasures, Description: "즉시 재수술"},
	}})
	if err != nil {
		t.Fatalf("ReplaceConsent: %v", err)
	}
	if len(data.Consents) != 2 {
		t.Fatalf("expected 2 items, got %+v", data.Consents)
	}
	if data.Consents[0].Key != consent.KeyEmergencyMeasures || data.Consents[1].Description != "5%" {
		t.Errorf("expected field order with edits applied, got %+v", data.Consents)
	}
	if len(data.References) != 1 {
		t.Errorf("expected references kept when not supplied, got %+v", data.References)
	}

	view, err := d.svc.Sections(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if view.Consents.MortalityRisk != "5%" || view.Consents.PrognosisWithoutSurgery != "" {
		t.Errorf("unexpected nested view %+v", view.Consents)
	}
	if len(view.References.MortalityRisk) != 1 {
		t.Errorf("expected nested references, got %+v", view.References)
	}
}

func TestService_ReplaceConsent_RequiresGeneratedConsent(t *testing.T) {
	d := newTestService()
	_, err := d.svc.ReplaceConsent(context.Background(), "s1", ConsentUpdate{})
	if !errors.Is(err, ErrMissingState) {
		t.Errorf("expected missing state, got %v", err)
	}
}

func TestService_Chat_AppliesModifiedContent(t *testing.T) {
	d := newTestService()
	ctx := context.Background()
	seedForm(t, d, "s1", completeForm())
	if _, err := d.svc.Generate(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	d.backend.chat = &gateway.ChatResponse{
		Message:           "수정했습니다",
		ConversationID:    "conv-1",
		History:           []gateway.ChatMessage{{Role: "user", Content: "위험성을 낮춰주세요"}, {Role: "assistant", Content: "수정했습니다"}},
		UpdatedConsents:   consent.Items{{Key: consent.KeyMortalityRisk, Description: "10%"}},
		IsContentModified: true,
	}

	res, err := d.svc.Chat(ctx, "s1", ChatInput{Message: "  위험성을 낮춰주세요 "})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !res.IsContentModified || len(res.Consents) != 1 || res.Consents[0].Description != "10%" {
		t.Errorf("unexpected chat result %+v", res)
	}

	sent := d.backend.chats[0]
	if sent.Message != "위험성을 낮춰주세요" {
		t.Errorf("expected trimmed message, got %q", sent.Message)
	}
	if sent.Consents.MortalityRisk != "20%" {
		t.Errorf("expected nested consent in request, got %+v", sent.Consents)
	}

	stored, _ := d.svc.GetConsent(ctx, "s1")
	if stored.ConversationID != "conv-1" || len(stored.History) != 2 {
		t.Errorf("expected conversation stored, got %+v", stored)
	}
	if len(stored.References) != 1 {
		t.Errorf("expected references kept without updates, got %+v", stored.References)
	}

	d.backend.chat = &gateway.ChatResponse{Message: "네", ConversationID: "conv-1"}
	if _, err := d.svc.Chat(ctx, "s1", ChatInput{Message: "감사합니다"}); err != nil {
		t.Fatal(err)
	}
	if d.backend.chats[1].ConversationID != "conv-1" || len(d.backend.chats[1].History) != 2 {
		t.Errorf("expected conversation to continue, got %+v", d.backend.chats[1])
	}
	stored, _ = d.svc.GetConsent(ctx, "s1")
	if len(stored.History) != 4 {
		t.Errorf("expected history appended locally, got %d turns", len(stored.History))
	}
}

func TestService_Chat_UnmodifiedKeepsContent(t *testing.T) {
	d := newTestService()
	ctx := context.Background()
	seedForm(t, d, "s1", completeForm())
	d.svc.Generate(ctx, "s1")
	d.backend.chat = &gateway.ChatResponse{
		Message:         "설명입니다",
		UpdatedConsents: consent.Items{{Key: consent.KeyMortalityRisk, Description: "ignored"}},
	}

	res, err := d.svc.Chat(ctx, "s1", ChatInput{Message: "질문"})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsContentModified || len(res.Consents) != 2 {
		t.Errorf("expected consent unchanged, got %+v", res)
	}
}

func TestService_Chat_EmptyMessage(t *testing.T) {
	d := newTestService()
	if _, err := d.svc.Chat(context.Background(), "s1", ChatInput{Message: "  "}); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
}

// -- Document & Submit --

func TestService_Render(t *testing.T) {
	d := newTestService()
	ctx := context.Background()
	seedForm(t, d, "s1", completeForm())
	d.svc.Generate(ctx, "s1")
	if err := d.svc.SetSignatures(ctx, "s1", SignatureBundle{Patient: "data:image/png;base64,AAAA"}); err != nil {
		t.Fatal(err)
	}

	r, err := d.svc.Render(ctx, "s1")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if r.FileName != "consent_12345_20240131.pdf" {
		t.Errorf("unexpected file name %s", r.FileName)
	}
	info := d.assembler.calls[0]
	if info.Name != "홍길동" || info.Gender != "F" || info.Diagnosis != "담석증" {
		t.Errorf("unexpected patient info %+v", info)
	}
	if d.assembler.sigs[0].Patient == "" || d.assembler.sigs[0].Doctor != "" {
		t.Errorf("unexpected signatures %+v", d.assembler.sigs[0])
	}
}

func TestService_Render_MissingConsent(t *testing.T) {
	d := newTestService()
	seedForm(t, d, "s1", completeForm())
	_, err := d.svc.Render(context.Background(), "s1")
	var missing *MissingStateError
	if !errors.As(err, &missing) || missing.Key != statestore.KeyConsentData {
		t.Errorf("expected missing consent_data, got %v", err)
	}
}

func TestService_Render_AssemblerError(t *testing.T) {
	d := newTestService()
	ctx := context.Background()
	seedForm(t, d, "s1", completeForm())
	d.svc.Generate(ctx, "s1")
	d.assembler.err = errors.New("bad font")

	if _, err := d.svc.Render(ctx, "s1"); err == nil {
		t.Error("expected assembler error")
	}
}

func TestService_Submit(t *testing.T) {
	d := newTestService()
	ctx := context.Background()
	seedForm(t, d, "s1", completeForm())
	d.svc.Generate(ctx, "s1")
	d.svc.SetSignatures(ctx, "s1", SignatureBundle{Patient: "p", Doctor: "d"})

	res, err := d.svc.Submit(ctx, "s1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.SubmissionID != "sub-1" || res.Document == nil {
		t.Fatalf("unexpected result %+v", res)
	}

	meta, err := d.blobs.GetMetadata(ctx, res.Document.ID)
	if err != nil {
		t.Fatalf("expected archived document: %v", err)
	}
	if meta.Category != blobstore.CategoryConsentForm || meta.SessionID != "s1" || meta.FileName != "consent_12345_20240131.pdf" {
		t.Errorf("unexpected metadata %+v", meta)
	}

	sub := d.backend.submitted[0]
	if sub.DocumentID != meta.ID || sub.DocumentSHA256 != meta.Hash {
		t.Errorf("submission does not reference the archive: %+v", sub)
	}
	if !sub.Signatures.Patient || !sub.Signatures.Doctor {
		t.Errorf("expected both signature flags, got %+v", sub.Signatures)
	}

	evs := d.publisher.Events()
	if len(evs) != 1 || evs[0].Type != events.TypeConsentSubmitted || evs[0].ResourceID != "sub-1" {
		t.Errorf("unexpected events %+v", evs)
	}
}

func TestService_Submit_IncompleteForm(t *testing.T) {
	d := newTestService()
	ctx := context.Background()
	seedForm(t, d, "s1", intake.FormState{intake.FieldPatientName: "홍길동"})

	_, err := d.svc.Submit(ctx, "s1")
	var incomplete *IncompleteFormError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteFormError, got %v", err)
	}
	if len(incomplete.Steps) != 2 {
		t.Errorf("expected patient and surgery steps invalid, got %+v", incomplete.Steps)
	}
	if len(d.backend.submitted) != 0 {
		t.Error("backend must not be called for an incomplete form")
	}
}

func archivedCount(t *testing.T, d *testDeps, sessionID string) int {
	t.Helper()
	_, total, err := d.blobs.List(context.Background(), blobstore.ListParams{SessionID: sessionID})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return total
}

func TestService_Submit_BackendFailureRemovesArchive(t *testing.T) {
	d := newTestService()
	ctx := context.Background()
	seedForm(t, d, "s1", completeForm())
	d.svc.Generate(ctx, "s1")
	d.backend.err = &gateway.Error{Kind: gateway.KindConnectivity, Op: "submit"}

	for i := 0; i < 3; i++ {
		if _, err := d.svc.Submit(ctx, "s1"); !errors.Is(err, gateway.ErrConnectivity) {
			t.Fatalf("attempt %d: expected connectivity error, got %v", i, err)
		}
	}
	if n := archivedCount(t, d, "s1"); n != 0 {
		t.Errorf("expected no archived documents after failed submissions, got %d", n)
	}
	if len(d.publisher.Events()) != 0 {
		t.Error("no event expected after a failed submission")
	}

	d.backend.err = nil
	if _, err := d.svc.Submit(ctx, "s1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n := archivedCount(t, d, "s1"); n != 1 {
		t.Errorf("expected exactly one archived document, got %d", n)
	}
}

func TestService_Submit_CancelledContextStillRemovesArchive(t *testing.T) {
	d := newTestService()
	seedForm(t, d, "s1", completeForm())
	d.svc.Generate(context.Background(), "s1")

	ctx, cancel := context.WithCancel(context.Background())
	d.backend.onSubmit = cancel
	d.backend.err = &gateway.Error{Kind: gateway.KindTimeout, Op: "submit"}

	if _, err := d.svc.Submit(ctx, "s1"); !errors.Is(err, gateway.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if n := archivedCount(t, d, "s1"); n != 0 {
		t.Errorf("expected archive removed, got %d", n)
	}
}

func TestService_Submit_PublishFailureIsNotFatal(t *testing.T) {
	d := newTestService()
	ctx := context.Background()
	seedForm(t, d, "s1", completeForm())
	d.svc.Generate(ctx, "s1")
	d.publisher.FailWith(errors.New("broker down"))

	if _, err := d.svc.Submit(ctx, "s1"); err != nil {
		t.Errorf("expected submit to succeed, got %v", err)
	}
}

func TestDocumentFileName(t *testing.T) {
	if got := DocumentFileName("", testNow); got != "consent_20240131.pdf" {
		t.Errorf("unexpected name %s", got)
	}
}
