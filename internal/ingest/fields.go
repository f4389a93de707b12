package ingest

import "strings"

// validate checks the three syntactic conditions a candidate record
// must satisfy before field extraction is attempted.
func validate(line []byte) bool {
	if len(line) < 2 {
		return false
	}
	if !strings.Contains(string(line), `"fields":`) {
		return false
	}
	if !strings.HasPrefix(string(line), `{"timestamp`) {
		return false
	}
	if line[len(line)-2] != '}' || line[len(line)-1] != '}' {
		return false
	}
	return true
}

// extractQuotedUint finds `"field":"<digits>"` and returns the digits
// as an integer. Used for src, dst and pgn, all serialized as quoted
// decimal strings by the analyzer.
func extractQuotedUint(line string, field string) (uint64, bool) {
	needle := `"` + field + `":"`
	idx := strings.Index(line, needle)
	if idx < 0 {
		return 0, false
	}
	start := idx + len(needle)
	end := strings.IndexByte(line[start:], '"')
	if end < 0 {
		return 0, false
	}
	digits := line[start : start+end]
	if digits == "" {
		return 0, false
	}
	var v uint64
	for i := 0; i < len(digits); i++ {
		c := digits[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + uint64(c-'0')
	}
	return v, true
}

// secondaryKeyFields is the literal scan order used by the extractor. The mixed
// quoting (some entries include the leading quote, some don't) matches
// the source's substring markers exactly — it is a deliberate shortcut
// around proper JSON parsing, not a typo.
var secondaryKeyFields = []string{
	`Instance"`,
	`"Reference"`,
	`"Message ID"`,
	`"User ID"`,
	`"Proprietary ID"`,
}

// secondaryKeyNames is the canonical name used for the validity-window
// lookup in validity.go, parallel to secondaryKeyFields by index.
var secondaryKeyNames = []string{
	"Instance",
	"Reference",
	"Message ID",
	"User ID",
	"Proprietary ID",
}

func isSkipChar(c byte) bool {
	return c == '"' || c == ':' || c == ',' || c == ' '
}

// extractSecondaryKey scans for the first matching marker (in order)
// and captures the value that follows it: skip any run of
// `{":, space}`, then capture up to the next space or `"`.
func extractSecondaryKey(line string) (field, value string, ok bool) {
	for i, marker := range secondaryKeyFields {
		idx := strings.Index(line, marker)
		if idx < 0 {
			continue
		}
		pos := idx + len(marker)
		for pos < len(line) && isSkipChar(line[pos]) {
			pos++
		}
		start := pos
		for pos < len(line) && line[pos] != ' ' && line[pos] != '"' {
			pos++
		}
		return secondaryKeyNames[i], line[start:pos], true
	}
	return "", "", false
}

// extractDescription extracts the value following `"description":`,
// terminated by the next `:` or `"`, whichever comes first — matching
// the source's shortcut scan rather than a proper JSON string parse.
func extractDescription(line string) (string, bool) {
	const marker = `"description":`
	idx := strings.Index(line, marker)
	if idx < 0 {
		return "", false
	}
	start := idx + len(marker)
	if start < len(line) && line[start] == '"' {
		start++ // skip the opening quote of the JSON string value
	}
	rest := line[start:]
	end := strings.IndexAny(rest, `:"`)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}
