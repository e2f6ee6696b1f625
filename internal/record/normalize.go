package record

import (
	"fmt"
	"strings"
	"time"

	"github.com/tm2bridge/ingest/internal/tabular"
)

// ValidationError is a record-level rejection. It is a value, not a fault:
// the row is skipped and the batch continues.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// TwoDigitYearPivot defines how 2-digit years are interpreted: parsed years
// more than this many years in the future are pushed to the previous century.
var TwoDigitYearPivot = 20

// Date layouts split by year format for proper 2-digit year handling.
var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "2 Jan 2006",
		"20060102",
	}
)

// NormalizerOptions configure validation behavior.
type NormalizerOptions struct {
	// StrictDates turns an unparsable diagnosis date into a validation
	// error instead of substituting the current time.
	StrictDates bool

	// Synonyms override the built-in category tables. Nil uses defaults.
	Synonyms *Synonyms

	// Now stubs the clock in tests. Nil uses time.Now.
	Now func() time.Time
}

// Normalizer converts raw rows into canonical records.
type Normalizer struct {
	strictDates bool
	synonyms    *Synonyms
	now         func() time.Time
}

// NewNormalizer creates a Normalizer from options.
func NewNormalizer(opts NormalizerOptions) *Normalizer {
	syn := opts.Synonyms
	if syn == nil {
		syn = DefaultSynonyms()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Normalizer{
		strictDates: opts.StrictDates,
		synonyms:    syn,
		now:         now,
	}
}

// Normalize validates and transforms one raw row. Rules apply in order and
// short-circuit on the first failure; a partially valid record is never
// produced. The returned error, when non-nil, is always a *ValidationError.
func (n *Normalizer) Normalize(row tabular.Row, sourceFile string) (*Canonical, *ValidationError) {
	patientID, verr := requireField(row, ColPatientID, MaxIDLength)
	if verr != nil {
		return nil, verr
	}
	tm2Code, verr := requireField(row, ColTM2Code, MaxCodeLength)
	if verr != nil {
		return nil, verr
	}
	conditionName, verr := requireField(row, ColConditionName, MaxConditionLength)
	if verr != nil {
		return nil, verr
	}
	systemText, verr := requireField(row, ColSystemType, 0)
	if verr != nil {
		return nil, verr
	}
	severityText, verr := requireField(row, ColSeverity, 0)
	if verr != nil {
		return nil, verr
	}
	dateText, verr := requireField(row, ColDiagnosisDate, 0)
	if verr != nil {
		return nil, verr
	}
	practitionerID, verr := requireField(row, ColPractitionerID, MaxIDLength)
	if verr != nil {
		return nil, verr
	}

	if !strings.HasPrefix(strings.ToUpper(tm2Code), CodePrefix) {
		return nil, &ValidationError{
			Field:  ColTM2Code,
			Reason: fmt.Sprintf("code %q must start with %q", tm2Code, CodePrefix),
		}
	}

	if !validIdentifier(patientID) {
		return nil, &ValidationError{
			Field:  ColPatientID,
			Reason: "must contain only alphanumeric characters, hyphens, and underscores",
		}
	}
	if !validIdentifier(practitionerID) {
		return nil, &ValidationError{
			Field:  ColPractitionerID,
			Reason: "must contain only alphanumeric characters, hyphens, and underscores",
		}
	}

	now := n.now().UTC()

	diagnosisDate, parsed := ParseDate(dateText, now)
	if !parsed && n.strictDates {
		return nil, &ValidationError{
			Field:  ColDiagnosisDate,
			Reason: fmt.Sprintf("unparsable date %q", dateText),
		}
	}
	fellBack := !parsed

	return &Canonical{
		PatientID:      strings.ToUpper(patientID),
		TM2Code:        strings.ToUpper(tm2Code),
		ConditionName:  conditionName,
		SystemType:     n.synonyms.MapSystem(systemText),
		Severity:       n.synonyms.MapSeverity(severityText),
		DiagnosisDate:  diagnosisDate,
		PractitionerID: strings.ToUpper(practitionerID),
		CreatedAt:      now,
		SourceFile:     sourceFile,
		DateFellBack:   fellBack,
	}, nil
}

// requireField fetches a non-empty string cell, enforcing maxLen when > 0.
func requireField(row tabular.Row, name string, maxLen int) (string, *ValidationError) {
	val, ok := row[name]
	if !ok || val == nil || *val == "" {
		return "", &ValidationError{Field: name, Reason: "required field is missing or empty"}
	}
	if maxLen > 0 && len(*val) > maxLen {
		return "", &ValidationError{
			Field:  name,
			Reason: fmt.Sprintf("exceeds maximum length of %d", maxLen),
		}
	}
	return *val, nil
}

// validIdentifier reports whether s contains only alphanumerics, hyphens,
// and underscores.
func validIdentifier(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// ParseDate parses s with a permissive multi-format parser. When no layout
// matches it returns fallback and false. All results are UTC.
func ParseDate(s string, fallback time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback, false
	}

	// 4-digit year layouts first: unambiguous.
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}

	// 2-digit year layouts with pivot adjustment. Go maps 00-68 to
	// 2000-2068; years past the pivot belong to the previous century.
	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t.UTC(), true
		}
	}

	return fallback, false
}
