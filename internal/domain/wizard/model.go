// Package wizard owns a consent session from the first form step to the
// submitted, signed document.
package wizard

import (
	"errors"
	"fmt"
	"time"

	"github.com/surgiform/surgiform/internal/domain/consent"
	"github.com/surgiform/surgiform/internal/domain/intake"
	"github.com/surgiform/surgiform/internal/platform/blobstore"
	"github.com/surgiform/surgiform/internal/platform/gateway"
	"github.com/surgiform/surgiform/internal/platform/pdfdoc"
	"github.com/surgiform/surgiform/internal/platform/statestore"
)

// SignatureBundle holds the captured patient and doctor signatures.
type SignatureBundle = pdfdoc.Signatures

// ConsentData is the value persisted under the consent_data key: the
// reviewed items plus the refinement conversation they came out of.
type ConsentData struct {
	Consents       []consent.Item        `json:"consents"`
	References     []consent.Reference   `json:"references,omitempty"`
	ConversationID string                `json:"conversation_id,omitempty"`
	History        []gateway.ChatMessage `json:"history,omitempty"`
	GeneratedAt    time.Time             `json:"generated_at"`
}

// FormUpdate is the body of PUT /sessions/:id/form. Fields are merged into
// the stored form; Step, when set, is validated afterwards.
type FormUpdate struct {
	Step   intake.Step      `json:"step"`
	Fields intake.FormState `json:"fields"`
}

// FormResult is returned after a form update.
type FormResult struct {
	Form   intake.FormState   `json:"form"`
	Step   intake.Step        `json:"step,omitempty"`
	Valid  bool               `json:"valid"`
	Errors intake.FieldErrors `json:"errors,omitempty"`
}

// ConsentUpdate is the body of PUT /sessions/:id/consent. A nil References
// keeps the stored references.
type ConsentUpdate struct {
	Consents   consent.Items          `json:"consents"`
	References *consent.ReferenceList `json:"references,omitempty"`
}

// SectionsView is the nested rendering of the stored consent.
type SectionsView struct {
	Consents   consent.Sections   `json:"consents"`
	References consent.References `json:"references"`
}

// ChatInput is the body of POST /sessions/:id/chat.
type ChatInput struct {
	Message string `json:"message"`
}

// ChatResult is the assistant reply together with the consent as stored
// after the turn.
type ChatResult struct {
	Message           string         `json:"message"`
	ConversationID    string         `json:"conversation_id"`
	IsContentModified bool           `json:"is_content_modified"`
	Consents          []consent.Item `json:"consents"`
}

// SubmitResult reports the archived document and the backend receipt.
type SubmitResult struct {
	SubmissionID string                  `json:"submission_id"`
	Status       string                  `json:"status"`
	Message      string                  `json:"message,omitempty"`
	Document     *blobstore.BlobMetadata `json:"document"`
}

// SubmittedPayload is the body of the consent.submitted event.
type SubmittedPayload struct {
	SessionID      string `json:"session_id"`
	SubmissionID   string `json:"submission_id"`
	DocumentID     string `json:"document_id"`
	DocumentSHA256 string `json:"document_sha256"`
	RegistrationNo string `json:"registration_no"`
	PageCount      int    `json:"page_count"`
}

var (
	ErrMissingState   = errors.New("session state missing")
	ErrInvalidSession = errors.New("invalid session id")
	ErrUnknownStep    = errors.New("unknown form step")
	ErrEmptyMessage   = errors.New("message is required")
	ErrIncompleteForm = errors.New("form is incomplete")
)

// MissingStateError reports which key a step needed but did not find. The
// wizard has to restart from the first step.
type MissingStateError struct {
	Key statestore.Key
}

func (e *MissingStateError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingState, e.Key)
}

func (e *MissingStateError) Is(target error) bool {
	return target == ErrMissingState
}

// IncompleteFormError lists the steps that fail validation at submission.
type IncompleteFormError struct {
	Steps []intake.StepStatus
}

func (e *IncompleteFormError) Error() string {
	names := make([]string, 0, len(e.Steps))
	for _, s := range e.Steps {
		names = append(names, string(s.Step))
	}
	return fmt.Sprintf("%s: invalid steps %v", ErrIncompleteForm, names)
}

func (e *IncompleteFormError) Is(target error) bool {
	return target == ErrIncompleteForm
}

// PatientInfo derives the printed demographic block from a mapped request.
func PatientInfo(req intake.ConsentRequest) pdfdoc.PatientInfo {
	return pdfdoc.PatientInfo{
		Name:           req.PatientName,
		RegistrationNo: req.RegistrationNo,
		Age:            req.Age,
		Gender:         req.Gender,
		Diagnosis:      req.Diagnosis,
		SurgeryName:    req.SurgeryName,
	}
}

// DocumentFileName is the attachment name for a rendered consent, e.g.
// consent_12345_20240131.pdf.
func DocumentFileName(registrationNo string, at time.Time) string {
	if registrationNo == "" {
		return fmt.Sprintf("consent_%s.pdf", at.Format("20060102"))
	}
	return fmt.Sprintf("consent_%s_%s.pdf", registrationNo, at.Format("20060102"))
}
