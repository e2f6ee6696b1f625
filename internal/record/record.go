// Package record defines the canonical TM2 clinical record and the
// normalization rules that turn a raw CSV row into one.
package record

import "time"

// Column names the ingestion service requires in every uploaded file.
const (
	ColPatientID      = "patient_id"
	ColTM2Code        = "tm2_code"
	ColConditionName  = "condition_name"
	ColSystemType     = "system_type"
	ColSeverity       = "severity"
	ColDiagnosisDate  = "diagnosis_date"
	ColPractitionerID = "practitioner_id"
)

// RequiredColumns lists every column a TM2 file must carry, in the order
// they are documented to external uploaders.
func RequiredColumns() []string {
	return []string{
		ColPatientID,
		ColTM2Code,
		ColConditionName,
		ColSystemType,
		ColSeverity,
		ColDiagnosisDate,
		ColPractitionerID,
	}
}

// Field length bounds for incoming records.
const (
	MaxIDLength        = 50
	MaxCodeLength      = 20
	MaxConditionLength = 200
)

// CodePrefix is the required prefix for ICD-11 TM2 classification codes.
const CodePrefix = "TM2."

// SystemType is a traditional medicine system category.
type SystemType string

const (
	SystemAyurveda    SystemType = "Ayurveda"
	SystemSiddha      SystemType = "Siddha"
	SystemUnani       SystemType = "Unani"
	SystemHomeopathy  SystemType = "Homeopathy"
	SystemTCM         SystemType = "Traditional Chinese Medicine"
	SystemNaturopathy SystemType = "Naturopathy"
	SystemYoga        SystemType = "Yoga"
	SystemOther       SystemType = "Other"
)

// Severity is a condition severity level.
type Severity string

const (
	SeverityMild     Severity = "Mild"
	SeverityModerate Severity = "Moderate"
	SeveritySevere   Severity = "Severe"
	SeverityCritical Severity = "Critical"
	SeverityUnknown  Severity = "Unknown"
)

// Canonical is a fully normalized, validated TM2 record. One exists only if
// the originating row satisfied every structural and business rule.
type Canonical struct {
	PatientID      string
	TM2Code        string
	ConditionName  string
	SystemType     SystemType
	Severity       Severity
	DiagnosisDate  time.Time
	PractitionerID string
	CreatedAt      time.Time
	SourceFile     string

	// DateFellBack marks that the diagnosis date was unparsable and the
	// creation time was substituted. Surfaced as a warning, not an error.
	DateFellBack bool
}
