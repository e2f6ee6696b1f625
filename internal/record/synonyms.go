package record

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Synonyms maps free-text category variants to canonical enum values.
// Lookups are lowercase and trimmed.
type Synonyms struct {
	System   map[string]SystemType
	Severity map[string]Severity
}

// DefaultSynonyms returns the built-in synonym tables. The canonical value
// spellings themselves are always included.
func DefaultSynonyms() *Synonyms {
	return &Synonyms{
		System: map[string]SystemType{
			"ayurveda":                     SystemAyurveda,
			"ayurved":                      SystemAyurveda,
			"siddha":                       SystemSiddha,
			"siddh":                        SystemSiddha,
			"unani":                        SystemUnani,
			"yunani":                       SystemUnani,
			"homeopathy":                   SystemHomeopathy,
			"homoeopathy":                  SystemHomeopathy,
			"homeo":                        SystemHomeopathy,
			"tcm":                          SystemTCM,
			"traditional chinese medicine": SystemTCM,
			"chinese medicine":             SystemTCM,
			"naturopathy":                  SystemNaturopathy,
			"naturo":                       SystemNaturopathy,
			"yoga":                         SystemYoga,
			"other":                        SystemOther,
		},
		Severity: map[string]Severity{
			"mild":             SeverityMild,
			"light":            SeverityMild,
			"low":              SeverityMild,
			"moderate":         SeverityModerate,
			"medium":           SeverityModerate,
			"severe":           SeveritySevere,
			"high":             SeveritySevere,
			"serious":          SeveritySevere,
			"critical":         SeverityCritical,
			"very severe":      SeverityCritical,
			"life threatening": SeverityCritical,
			"unknown":          SeverityUnknown,
		},
	}
}

// synonymsFile is the on-disk override format: synonym text to canonical
// value name. Entries extend the defaults; they cannot remove them.
type synonymsFile struct {
	System   map[string]string `yaml:"system"`
	Severity map[string]string `yaml:"severity"`
}

// LoadFile merges synonym overrides from a YAML file into s. Canonical
// values on the right-hand side must name an existing enum value.
func (s *Synonyms) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read synonyms file: %w", err)
	}

	var f synonymsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse synonyms file %s: %w", path, err)
	}

	for text, canonical := range f.System {
		st, ok := lookupSystemType(canonical)
		if !ok {
			return fmt.Errorf("synonyms file %s: unknown system type %q", path, canonical)
		}
		s.System[normalizeKey(text)] = st
	}
	for text, canonical := range f.Severity {
		sev, ok := lookupSeverity(canonical)
		if !ok {
			return fmt.Errorf("synonyms file %s: unknown severity %q", path, canonical)
		}
		s.Severity[normalizeKey(text)] = sev
	}

	return nil
}

// MapSystem resolves free text to a system type, falling back to Other.
func (s *Synonyms) MapSystem(text string) SystemType {
	if st, ok := s.System[normalizeKey(text)]; ok {
		return st
	}
	return SystemOther
}

// MapSeverity resolves free text to a severity, falling back to Unknown.
func (s *Synonyms) MapSeverity(text string) Severity {
	if sev, ok := s.Severity[normalizeKey(text)]; ok {
		return sev
	}
	return SeverityUnknown
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func lookupSystemType(name string) (SystemType, bool) {
	for _, st := range []SystemType{
		SystemAyurveda, SystemSiddha, SystemUnani, SystemHomeopathy,
		SystemTCM, SystemNaturopathy, SystemYoga, SystemOther,
	} {
		if strings.EqualFold(string(st), name) {
			return st, true
		}
	}
	return "", false
}

func lookupSeverity(name string) (Severity, bool) {
	for _, sev := range []Severity{
		SeverityMild, SeverityModerate, SeveritySevere,
		SeverityCritical, SeverityUnknown,
	} {
		if strings.EqualFold(string(sev), name) {
			return sev, true
		}
	}
	return "", false
}
