package intake

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// genderCodes translates the labels the wizard may submit into the backend's
// two-value gender code. Latin labels are matched case-insensitively.
var genderCodes = map[string]string{
	"남":      GenderMale,
	"남성":     GenderMale,
	"남자":     GenderMale,
	"m":      GenderMale,
	"male":   GenderMale,
	"여":      GenderFemale,
	"여성":     GenderFemale,
	"여자":     GenderFemale,
	"f":      GenderFemale,
	"female": GenderFemale,
}

// conditionFlags lists the special-condition fields in payload order.
var conditionFlags = []string{
	FieldPastHistory, FieldDiabetes, FieldSmoking, FieldHypertension,
	FieldAllergy, FieldCardiovascular, FieldRespiratory, FieldCoagulation,
	FieldMedications, FieldRenal, FieldDrugAbuse,
}

// monitoringFlags are the history flags that downgrade the patient
// condition to ConditionRequiresMonitoring.
var monitoringFlags = []string{
	FieldPastHistory, FieldDiabetes, FieldHypertension, FieldCardiovascular,
	FieldRespiratory, FieldRenal, FieldCoagulation,
}

// MapFormToRequest converts a wizard snapshot into the backend request
// schema. It never fails: unknown or malformed values fall back to defaults.
func MapFormToRequest(form FormState) ConsentRequest {
	req := ConsentRequest{
		RegistrationNo:   DigitsOnly(form.String(FieldRegistrationNumber)),
		PatientName:      form.String(FieldPatientName),
		Age:              ParseAge(form[FieldPatientAge]),
		Gender:           NormalizeGender(form.String(FieldPatientGender)),
		ScheduledDate:    form.String(FieldScheduledDate),
		Diagnosis:        JoinDiagnosis(form.String(FieldDiagnosis), form.String(FieldDiagnosisDetail)),
		SurgicalSiteMark: form.String(FieldSurgerySiteDetail),
		SurgeryName:      form.String(FieldSurgeryName),
		Participants:     mapParticipants(form[FieldMedicalTeam]),
		PatientCondition: classifyCondition(form),
		SpecialConditions: SpecialConditions{
			PastHistory:    form.Flag(FieldPastHistory),
			Diabetes:       form.Flag(FieldDiabetes),
			Smoking:        form.Flag(FieldSmoking),
			Hypertension:   form.Flag(FieldHypertension),
			Allergy:        form.Flag(FieldAllergy),
			Cardiovascular: form.Flag(FieldCardiovascular),
			Respiratory:    form.Flag(FieldRespiratory),
			Coagulation:    form.Flag(FieldCoagulation),
			Medications:    form.Flag(FieldMedications),
			Renal:          form.Flag(FieldRenal),
			DrugAbuse:      form.Flag(FieldDrugAbuse),
			Other:          optionalText(form.String(FieldOtherConditions)),
		},
	}

	mortality, okMortality := ParseRisk(form[FieldMortalityRisk])
	morbidity, okMorbidity := ParseRisk(form[FieldMorbidityRisk])
	if okMortality && okMorbidity {
		req.PossumScore = &PossumScore{MortalityRisk: mortality, MorbidityRisk: morbidity}
	}

	return req
}

// String returns the trimmed string value of key, or "" when the key is
// absent or not a string. Numbers are formatted without a trailing ".0".
func (f FormState) String(key string) string {
	switch v := f[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

// Flag reports whether key holds exactly the boolean true. Strings such as
// "true" or "예" are not accepted.
func (f FormState) Flag(key string) bool {
	b, ok := f[key].(bool)
	return ok && b
}

// NormalizeGender maps a localized gender label to GenderMale or
// GenderFemale. Unrecognized labels yield GenderMale.
func NormalizeGender(label string) string {
	if code, ok := genderCodes[strings.ToLower(strings.TrimSpace(label))]; ok {
		return code
	}
	return GenderMale
}

// JoinDiagnosis appends the detail to the primary diagnosis with " - ".
func JoinDiagnosis(primary, detail string) string {
	primary = strings.TrimSpace(primary)
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return primary
	}
	return primary + " - " + detail
}

// DigitsOnly strips every non-digit rune from s.
func DigitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// ParseAge reads the leading integer of v ("45", 45, "45세"). Anything
// unparseable yields 0; out-of-range values are clamped to the int32 range.
func ParseAge(v interface{}) int {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) {
			return 0
		}
		return clampAge(n)
	case int:
		return clampAge(float64(n))
	case json.Number:
		return leadingInt(n.String())
	case string:
		return leadingInt(n)
	default:
		return 0
	}
}

func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	for i, r := range s {
		if i == 0 && (r == '-' || r == '+') {
			end = 1
			continue
		}
		if !unicode.IsDigit(r) || r > unicode.MaxASCII {
			break
		}
		end = i + 1
	}
	n, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return clampAge(n)
}

func clampAge(f float64) int {
	switch {
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int(f)
}

// ParseRisk parses a risk score given as a number or numeric string. The
// second result is false unless the value is finite and strictly positive.
func ParseRisk(v interface{}) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, false
	}
	return f, true
}

func classifyCondition(form FormState) string {
	for _, key := range monitoringFlags {
		if form.Flag(key) {
			return ConditionRequiresMonitoring
		}
	}
	return ConditionStable
}

func optionalText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// mapParticipants converts the medical_team array into exactly
// ParticipantSlots entries, truncating extras and padding with blanks.
func mapParticipants(v interface{}) []Participant {
	out := make([]Participant, ParticipantSlots)
	entries, _ := v.([]interface{})
	for i := 0; i < len(entries) && i < ParticipantSlots; i++ {
		m, ok := entries[i].(map[string]interface{})
		if !ok {
			continue
		}
		member := FormState(m)
		out[i] = Participant{
			Name:         member.String("name"),
			IsSpecialist: member.Flag("is_specialist"),
			Department:   member.String("department"),
		}
	}
	return out
}
