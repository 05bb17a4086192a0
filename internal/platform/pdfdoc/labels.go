package pdfdoc

// Labels holds every fixed string printed on the consent document.
type Labels struct {
	Title            string
	PatientName      string
	RegistrationNo   string
	Age              string
	AgeFormat        string // fmt verb for the age value, e.g. "%d세"
	Gender           string
	Male             string
	Female           string
	Diagnosis        string
	SurgeryName      string
	Signatures       string
	PatientSignature string
	DoctorSignature  string
	Date             string
	DateLayout       string // time layout for the footer date
}

// KoreanLabels is the default label set.
var KoreanLabels = Labels{
	Title:            "수술 동의서",
	PatientName:      "환자 성명",
	RegistrationNo:   "등록번호",
	Age:              "나이",
	AgeFormat:        "%d세",
	Gender:           "성별",
	Male:             "남",
	Female:           "여",
	Diagnosis:        "진단명",
	SurgeryName:      "수술명",
	Signatures:       "서명",
	PatientSignature: "환자 서명",
	DoctorSignature:  "의사 서명",
	Date:             "작성일",
	DateLayout:       "2006년 1월 2일",
}

// EnglishLabels renders the document with English captions.
var EnglishLabels = Labels{
	Title:            "Surgical Consent Form",
	PatientName:      "Patient name",
	RegistrationNo:   "Registration no.",
	Age:              "Age",
	AgeFormat:        "%d",
	Gender:           "Gender",
	Male:             "Male",
	Female:           "Female",
	Diagnosis:        "Diagnosis",
	SurgeryName:      "Surgery",
	Signatures:       "Signatures",
	PatientSignature: "Patient signature",
	DoctorSignature:  "Physician signature",
	Date:             "Date",
	DateLayout:       "January 2, 2006",
}

// LabelsFor returns the label set for a locale code. Unknown locales get
// KoreanLabels.
func LabelsFor(locale string) Labels {
	if locale == "en" {
		return EnglishLabels
	}
	return KoreanLabels
}
