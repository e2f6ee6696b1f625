package record

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Fingerprint computes the deterministic digest identifying a clinical
// event for deduplication. It depends only on patient ID, TM2 code, and
// diagnosis date; two records with the same triple are the same event
// regardless of any other field.
func Fingerprint(r *Canonical) string {
	return FingerprintParts(r.PatientID, r.TM2Code, r.DiagnosisDate)
}

// FingerprintParts is the pure digest over the identifying triple.
func FingerprintParts(patientID, tm2Code string, diagnosisDate time.Time) string {
	composite := strings.Join([]string{
		patientID,
		tm2Code,
		diagnosisDate.UTC().Format(time.RFC3339),
	}, "|")
	sum := sha256.Sum256([]byte(composite))
	return hex.EncodeToString(sum[:])
}
