package workflow

import (
	"regexp"
	"strings"

	domainwf "github.com/garyjia/rcm-agent/internal/domain/workflow"
)

// fieldPattern extracts one field; patterns are tried in order and the
// first capture wins
type fieldPattern struct {
	patterns []*regexp.Regexp
	lower    bool
}

func patterns(lower bool, exprs ...string) fieldPattern {
	fp := fieldPattern{lower: lower}
	for _, e := range exprs {
		fp.patterns = append(fp.patterns, regexp.MustCompile(e))
	}
	return fp
}

func (fp fieldPattern) find(text string) string {
	for _, re := range fp.patterns {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			v := strings.TrimSpace(m[1])
			if fp.lower {
				v = strings.ToLower(v)
			}
			if v != "" {
				return v
			}
		}
	}
	return ""
}

// A bare date is deliberately not accepted as the service date; it is
// usually the date of birth.
var (
	namePattern          = patterns(false, `(?i)Patient(?:\s+Name)?:\s*([^,\n]+)`)
	dobPattern           = patterns(false, `(?i)(?:DOB|Date\s+of\s+Birth):\s*(\d{4}-\d{2}-\d{2})`, `(\d{4}-\d{2}-\d{2})`)
	genderPattern        = patterns(true, `(?i)Gender:\s*(male|female|other)`, `(?i)\b(male|female)\b`)
	insurancePattern     = patterns(false, `(?i)Insurance(?:\s+Provider)?:\s*([^,\n]+)`, `(?i)\b(DAMAN|ADNIC|THIQA|BUPA)\b`)
	policyPattern        = patterns(false, `(?i)Policy\s+(?:Number|No\.?|#):?\s*([A-Za-z0-9-]+)`, `\b([A-Z]{2}\d{10,})\b`)
	mrnPattern           = patterns(false, `(?i)MRN:\s*([A-Za-z0-9-]+)`, `(?i)\b(MRN\d+)\b`)
	encounterTypePattern = patterns(true, `(?i)Encounter(?:\s+Type)?:\s*([^,\n]+)`, `(?i)\b(outpatient|inpatient|emergency|telemedicine)\b`)
	serviceDatePattern   = patterns(false, `(?i)(?:Service\s+Date|Date\s+of\s+Service):\s*(\d{4}-\d{2}-\d{2})`, `(?i)\bon\s+(\d{4}-\d{2}-\d{2})`)
	complaintPattern     = patterns(false, `(?i)Chief\s+Complaint:\s*([^,\n]+)`)
	notesPattern         = patterns(false, `(?is)Clinical\s+Notes:\s*(.+)`, `(?is)(Patient\s+presents\s+with.+)`)
)

// ExtractFromText pulls patient and encounter fields out of free conversation
// text. Fields that cannot be found are left empty.
func ExtractFromText(text string) (*domainwf.PatientData, *domainwf.EncounterData) {
	patient := &domainwf.PatientData{
		Name:              namePattern.find(text),
		DateOfBirth:       dobPattern.find(text),
		Gender:            genderPattern.find(text),
		InsuranceProvider: insurancePattern.find(text),
		PolicyNumber:      policyPattern.find(text),
		MRN:               mrnPattern.find(text),
	}
	encounter := &domainwf.EncounterData{
		EncounterType:    encounterTypePattern.find(text),
		ServiceDate:      serviceDatePattern.find(text),
		ChiefComplaint:   complaintPattern.find(text),
		RawClinicalNotes: notesPattern.find(text),
	}
	return patient, encounter
}
