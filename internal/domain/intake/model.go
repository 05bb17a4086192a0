package intake

// FormState is a snapshot of the wizard fields collected across steps. Values
// are loosely typed because they arrive as decoded JSON from the browser.
type FormState map[string]interface{}

// Well-known wizard field keys.
const (
	FieldPatientName        = "patient_name"
	FieldPatientAge         = "patient_age"
	FieldPatientGender      = "patient_gender"
	FieldRegistrationNumber = "registration_number"
	FieldDiagnosis          = "diagnosis"
	FieldDiagnosisDetail    = "diagnosis_detail"
	FieldSurgeryName        = "surgery_name"
	FieldScheduledDate      = "scheduled_date"
	FieldSurgerySiteDetail  = "surgery_site_detail"
	FieldMedicalTeam        = "medical_team"
	FieldOtherConditions    = "other_conditions"
	FieldMortalityRisk      = "mortality_risk"
	FieldMorbidityRisk      = "morbidity_risk"

	FieldPastHistory    = "past_history"
	FieldDiabetes       = "diabetes"
	FieldSmoking        = "smoking"
	FieldHypertension   = "hypertension"
	FieldAllergy        = "allergy"
	FieldCardiovascular = "cardiovascular"
	FieldRespiratory    = "respiratory"
	FieldCoagulation    = "coagulation"
	FieldMedications    = "medications"
	FieldRenal          = "renal"
	FieldDrugAbuse      = "drug_abuse"
)

// ParticipantSlots is the fixed length of ConsentRequest.Participants.
const ParticipantSlots = 3

// Canonical gender codes accepted by the backend.
const (
	GenderMale   = "M"
	GenderFemale = "F"
)

// Coarse patient condition values.
const (
	ConditionStable             = "안정"
	ConditionRequiresMonitoring = "모니터링 필요"
)

// ConsentRequest is the payload sent to the consent generation backend.
type ConsentRequest struct {
	RegistrationNo    string            `json:"registration_no"`
	PatientName       string            `json:"patient_name"`
	Age               int               `json:"age"`
	Gender            string            `json:"gender"`
	ScheduledDate     string            `json:"scheduled_date"`
	Diagnosis         string            `json:"diagnosis"`
	SurgicalSiteMark  string            `json:"surgical_site_mark"`
	SurgeryName       string            `json:"surgery_name"`
	Participants      []Participant     `json:"participants"`
	PatientCondition  string            `json:"patient_condition"`
	SpecialConditions SpecialConditions `json:"special_conditions"`
	PossumScore       *PossumScore      `json:"possum_score,omitempty"`
}

// Participant is one member of the medical team listed on the consent form.
type Participant struct {
	Name         string `json:"name"`
	IsSpecialist bool   `json:"is_specialist"`
	Department   string `json:"department"`
}

// SpecialConditions are the patient history flags that shape generated text.
type SpecialConditions struct {
	PastHistory    bool    `json:"past_history"`
	Diabetes       bool    `json:"diabetes"`
	Smoking        bool    `json:"smoking"`
	Hypertension   bool    `json:"hypertension"`
	Allergy        bool    `json:"allergy"`
	Cardiovascular bool    `json:"cardiovascular"`
	Respiratory    bool    `json:"respiratory"`
	Coagulation    bool    `json:"coagulation"`
	Medications    bool    `json:"medications"`
	Renal          bool    `json:"renal"`
	DrugAbuse      bool    `json:"drug_abuse"`
	Other          *string `json:"other"`
}

// PossumScore carries the P-POSSUM risk estimates. Both values are strictly
// positive whenever the block is present.
type PossumScore struct {
	MortalityRisk float64 `json:"mortality_risk"`
	MorbidityRisk float64 `json:"morbidity_risk"`
}
