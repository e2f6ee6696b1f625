// Package tabular decodes uploaded byte streams into ordered row mappings.
// It tolerates the encoding variance seen in real-world CSV exports and
// rejects files that cannot yield usable rows.
package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Row maps a column name to its cell value. A nil value means the cell was
// empty or whitespace-only.
type Row map[string]*string

// FormatError is a file-level failure: the input cannot produce any rows.
// It aborts the whole ingestion call.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "format error: " + e.Reason
}

// utf8BOM is the byte-order mark Excel prepends to "UTF-8 CSV" exports.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Read decodes data into ordered rows keyed by the header, requiring every
// name in required to appear in the header. Cells are trimmed; rows whose
// cells are all empty are dropped.
func Read(data []byte, required []string) ([]Row, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &FormatError{Reason: "file is empty or contains no data"}
	}

	records, err := decodeAndParse(data)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &FormatError{Reason: "no data rows"}
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = CleanHeader(h)
	}

	if missing := missingColumns(header, required); len(missing) > 0 {
		return nil, &FormatError{
			Reason: fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", ")),
		}
	}

	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(Row, len(header))
		empty := true
		for i, name := range header {
			if name == "" {
				continue
			}
			var val *string
			if i < len(rec) {
				if cell := CleanCell(rec[i]); cell != "" {
					val = &cell
					empty = false
				}
			}
			row[name] = val
		}
		if empty {
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, &FormatError{Reason: "no data rows"}
	}

	return rows, nil
}

// decodeAndParse tries an ordered list of encodings and returns the records
// from the first that decodes and parses. Excel exports are routinely
// latin1 or cp1252 despite claiming otherwise.
func decodeAndParse(data []byte) ([][]string, error) {
	attempts := []func([]byte) ([]byte, error){
		decodeUTF8,
		decodeUTF8SIG,
		decodeCharmap(charmap.ISO8859_1),
		decodeCharmap(charmap.Windows1252),
	}

	var lastErr error
	for _, decode := range attempts {
		decoded, err := decode(data)
		if err != nil {
			lastErr = err
			continue
		}
		records, err := parseCSV(decoded)
		if err != nil {
			lastErr = err
			continue
		}
		return records, nil
	}

	return nil, &FormatError{
		Reason: fmt.Sprintf("unsupported encoding or malformed CSV: %v", lastErr),
	}
}

func decodeUTF8(data []byte) ([]byte, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("invalid UTF-8")
	}
	return data, nil
}

func decodeUTF8SIG(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, utf8BOM) {
		return nil, fmt.Errorf("no UTF-8 BOM")
	}
	trimmed := bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(trimmed) {
		return nil, fmt.Errorf("invalid UTF-8 after BOM")
	}
	return trimmed, nil
}

func decodeCharmap(cm *charmap.Charmap) func([]byte) ([]byte, error) {
	return func(data []byte) ([]byte, error) {
		return cm.NewDecoder().Bytes(data)
	}
}

func parseCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

// missingColumns returns the required names absent from header, sorted for
// stable error messages.
func missingColumns(header, required []string) []string {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[strings.ToLower(h)] = true
	}

	var missing []string
	for _, name := range required {
		if !present[strings.ToLower(name)] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// CleanHeader normalizes a header cell: strips a BOM remnant, surrounding
// whitespace, and Excel's leading formula-guard apostrophe.
func CleanHeader(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "'")
	return strings.ToLower(s)
}

// CleanCell trims surrounding whitespace from a data cell.
func CleanCell(s string) string {
	return strings.TrimSpace(s)
}
