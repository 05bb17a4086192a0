package consent

// Sections is the nested consent document produced by the generation
// backend. An empty string means the section was not generated.
type Sections struct {
	PrognosisWithoutSurgery       string        `json:"prognosis_without_surgery"`
	AlternativeTreatments         string        `json:"alternative_treatments"`
	SurgeryPurposeNecessityEffect string        `json:"surgery_purpose_necessity_effect"`
	SurgeryMethodContent          SurgeryMethod `json:"surgery_method_content"`
	PossibleComplicationsSequelae string        `json:"possible_complications_sequelae"`
	EmergencyMeasures             string        `json:"emergency_measures"`
	MortalityRisk                 string        `json:"mortality_risk"`
}

// SurgeryMethod holds the sub-sections describing how the operation is
// performed.
type SurgeryMethod struct {
	OverallDescription       string `json:"overall_description"`
	EstimatedDuration        string `json:"estimated_duration"`
	MethodChangeOrAddition   string `json:"method_change_or_addition"`
	TransfusionPossibility   string `json:"transfusion_possibility"`
	SurgeonChangePossibility string `json:"surgeon_change_possibility"`
}

// References mirrors Sections with the literature cited for each leaf.
type References struct {
	PrognosisWithoutSurgery       []Reference         `json:"prognosis_without_surgery,omitempty"`
	AlternativeTreatments         []Reference         `json:"alternative_treatments,omitempty"`
	SurgeryPurposeNecessityEffect []Reference         `json:"surgery_purpose_necessity_effect,omitempty"`
	SurgeryMethodContent          SurgeryMethodSource `json:"surgery_method_content"`
	PossibleComplicationsSequelae []Reference         `json:"possible_complications_sequelae,omitempty"`
	EmergencyMeasures             []Reference         `json:"emergency_measures,omitempty"`
	MortalityRisk                 []Reference         `json:"mortality_risk,omitempty"`
}

// SurgeryMethodSource holds the references for each SurgeryMethod leaf.
type SurgeryMethodSource struct {
	OverallDescription       []Reference `json:"overall_description,omitempty"`
	EstimatedDuration        []Reference `json:"estimated_duration,omitempty"`
	MethodChangeOrAddition   []Reference `json:"method_change_or_addition,omitempty"`
	TransfusionPossibility   []Reference `json:"transfusion_possibility,omitempty"`
	SurgeonChangePossibility []Reference `json:"surgeon_change_possibility,omitempty"`
}

// Reference is a single cited source. Key is set only in the flat form.
type Reference struct {
	Key   string `json:"key,omitempty"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Text  string `json:"text"`
}

// Item is one entry of the flat display list reviewed by the clinician.
type Item struct {
	Key         string `json:"key,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// Stable leaf keys. Surgery method leaves use a dotted path.
const (
	KeyPrognosis         = "prognosis_without_surgery"
	KeyAlternatives      = "alternative_treatments"
	KeyPurpose           = "surgery_purpose_necessity_effect"
	KeyMethodOverall     = "surgery_method_content.overall_description"
	KeyMethodDuration    = "surgery_method_content.estimated_duration"
	KeyMethodChange      = "surgery_method_content.method_change_or_addition"
	KeyMethodTransfusion = "surgery_method_content.transfusion_possibility"
	KeyMethodSurgeon     = "surgery_method_content.surgeon_change_possibility"
	KeyComplications     = "possible_complications_sequelae"
	KeyEmergencyMeasures = "emergency_measures"
	KeyMortalityRisk     = "mortality_risk"
)

// Display categories.
const (
	CategoryPrognosis     = "예후"
	CategoryAlternatives  = "대안"
	CategoryPurpose       = "목적"
	CategoryMethod        = "수술 방법"
	CategoryComplications = "합병증"
	CategoryEmergency     = "응급조치"
	CategoryRisk          = "위험성"
)

const methodTitlePrefix = "수술 방법 및 내용 - "

// Field describes one leaf of the consent document: its stable key, the
// display strings, and accessors into both nested shapes.
type Field struct {
	Key      string
	Title    string
	Category string

	text func(*Sections) *string
	refs func(*References) *[]Reference
}

// Fields enumerates every leaf in display order.
var Fields = []Field{
	{
		Key: KeyPrognosis, Title: "예정된 수술을 하지 않을 경우의 예후", Category: CategoryPrognosis,
		text: func(s *Sections) *string { return &s.PrognosisWithoutSurgery },
		refs: func(r *References) *[]Reference { return &r.PrognosisWithoutSurgery },
	},
	{
		Key: KeyAlternatives, Title: "예정된 수술 이외의 시행 가능한 다른 방법", Category: CategoryAlternatives,
		text: func(s *Sections) *string { return &s.AlternativeTreatments },
		refs: func(r *References) *[]Reference { return &r.AlternativeTreatments },
	},
	{
		Key: KeyPurpose, Title: "수술의 목적/필요성/효과", Category: CategoryPurpose,
		text: func(s *Sections) *string { return &s.SurgeryPurposeNecessityEffect },
		refs: func(r *References) *[]Reference { return &r.SurgeryPurposeNecessityEffect },
	},
	{
		Key: KeyMethodOverall, Title: methodTitlePrefix + "수술 과정 전반에 대한 설명", Category: CategoryMethod,
		text: func(s *Sections) *string { return &s.SurgeryMethodContent.OverallDescription },
		refs: func(r *References) *[]Reference { return &r.SurgeryMethodContent.OverallDescription },
	},
	{
		Key: KeyMethodDuration, Title: methodTitlePrefix + "수술 추정 소요시간", Category: CategoryMethod,
		text: func(s *Sections) *string { return &s.SurgeryMethodContent.EstimatedDuration },
		refs: func(r *References) *[]Reference { return &r.SurgeryMethodContent.EstimatedDuration },
	},
	{
		Key: KeyMethodChange, Title: methodTitlePrefix + "수술 방법 변경 및 수술 추가 가능성", Category: CategoryMethod,
		text: func(s *Sections) *string { return &s.SurgeryMethodContent.MethodChangeOrAddition },
		refs: func(r *References) *[]Reference { return &r.SurgeryMethodContent.MethodChangeOrAddition },
	},
	{
		Key: KeyMethodTransfusion, Title: methodTitlePrefix + "수혈 가능성", Category: CategoryMethod,
		text: func(s *Sections) *string { return &s.SurgeryMethodContent.TransfusionPossibility },
		refs: func(r *References) *[]Reference { return &r.SurgeryMethodContent.TransfusionPossibility },
	},
	{
		Key: KeyMethodSurgeon, Title: methodTitlePrefix + "집도의 변경 가능성", Category: CategoryMethod,
		text: func(s *Sections) *string { return &s.SurgeryMethodContent.SurgeonChangePossibility },
		refs: func(r *References) *[]Reference { return &r.SurgeryMethodContent.SurgeonChangePossibility },
	},
	{
		Key: KeyComplications, Title: "발생 가능한 합병증/후유증/부작용", Category: CategoryComplications,
		text: func(s *Sections) *string { return &s.PossibleComplicationsSequelae },
		refs: func(r *References) *[]Reference { return &r.PossibleComplicationsSequelae },
	},
	{
		Key: KeyEmergencyMeasures, Title: "문제 발생시 조치사항", Category: CategoryEmergency,
		text: func(s *Sections) *string { return &s.EmergencyMeasures },
		refs: func(r *References) *[]Reference { return &r.EmergencyMeasures },
	},
	{
		Key: KeyMortalityRisk, Title: "진단/수술 관련 사망 위험성", Category: CategoryRisk,
		text: func(s *Sections) *string { return &s.MortalityRisk },
		refs: func(r *References) *[]Reference { return &r.MortalityRisk },
	},
}

var fieldsByKey = func() map[string]*Field {
	m := make(map[string]*Field, len(Fields))
	for i := range Fields {
		m[Fields[i].Key] = &Fields[i]
	}
	return m
}()

// FieldByKey looks up a leaf by its stable key.
func FieldByKey(key string) (Field, bool) {
	f, ok := fieldsByKey[key]
	if !ok {
		return Field{}, false
	}
	return *f, true
}
