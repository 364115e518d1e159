package transcript

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

var timestampPrefixPattern = regexp.MustCompile(`^\s*(?:\d+\.\s*)?\[\d+:\d{2}\s*-\s*\d+:\d{2}\]`)

// MappingCollision reports a label substitution that was skipped because the
// replacement name contains a label token and would be rewritten again later.
type MappingCollision struct {
	Label       string
	Name        string
	Conflicting string
}

func (c MappingCollision) Error() string {
	return fmt.Sprintf("mapping %q -> %q skipped: name contains label %q", c.Label, c.Name, c.Conflicting)
}

// ApplyMapping replaces diarization labels with participant names.
// Line-initial "LABEL:" or "LABEL -" prefixes become "NAME: ", then any remaining
// standalone LABEL token becomes NAME. Timestamps and header facts are never touched.
// An empty mapping returns the document unchanged.
func ApplyMapping(document string, mapping LabelMapping) (string, []MappingCollision) {
	clean := normalizeMapping(mapping)
	if len(clean) == 0 {
		return document, nil
	}

	labels := make([]string, 0, len(clean))
	for label := range clean {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var collisions []MappingCollision
	result := document
	for _, label := range labels {
		name := clean[label]
		if conflict, ok := findLabelToken(name, labels); ok {
			collisions = append(collisions, MappingCollision{Label: label, Name: name, Conflicting: conflict})
			continue
		}
		result = replaceLinePrefix(result, label, name)
		result = replaceTokens(result, label, name)
	}

	return result, collisions
}

func normalizeMapping(mapping LabelMapping) LabelMapping {
	clean := make(LabelMapping, len(mapping))
	for label, name := range mapping {
		label = strings.TrimSpace(label)
		name = strings.TrimSpace(name)
		if label == "" || name == "" || label == name {
			continue
		}
		clean[label] = name
	}
	return clean
}

func findLabelToken(name string, labels []string) (string, bool) {
	for _, label := range labels {
		if indexToken(name, label, 0) >= 0 {
			return label, true
		}
	}
	return "", false
}

func replaceLinePrefix(document, label, name string) string {
	pattern := regexp.MustCompile(`(?m)^((?:[ \t]*\d+\.[ \t]*)?\[\d+:\d{2}[ \t]*-[ \t]*\d+:\d{2}\][ \t]*)?[ \t]*` +
		regexp.QuoteMeta(label) + `[ \t]*[:\-][ \t]*`)
	replacement := "${1}" + strings.ReplaceAll(name, "$", "$$") + ": "
	return pattern.ReplaceAllString(document, replacement)
}

func replaceTokens(document, label, name string) string {
	lines := strings.Split(document, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, processedPrefix) || strings.HasPrefix(line, DurationPrefix) {
			continue
		}
		prefix := ""
		if loc := timestampPrefixPattern.FindStringIndex(line); loc != nil {
			prefix, line = line[:loc[1]], line[loc[1]:]
		}
		lines[i] = prefix + replaceAllTokens(line, label, name)
	}
	return strings.Join(lines, "\n")
}

func replaceAllTokens(s, token, repl string) string {
	var b strings.Builder
	from := 0
	for {
		idx := indexToken(s, token, from)
		if idx < 0 {
			break
		}
		b.WriteString(s[from:idx])
		b.WriteString(repl)
		from = idx + len(token)
	}
	if from == 0 {
		return s
	}
	b.WriteString(s[from:])
	return b.String()
}

// indexToken finds token in s at or after from, bounded on both sides by a
// non-word rune or the string edge.
func indexToken(s, token string, from int) int {
	for from <= len(s) {
		rel := strings.Index(s[from:], token)
		if rel < 0 {
			return -1
		}
		idx := from + rel
		end := idx + len(token)
		if isBoundary(s, idx, end) {
			return idx
		}
		_, size := utf8.DecodeRuneInString(s[idx:])
		from = idx + size
	}
	return -1
}

func isBoundary(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// ResolveMapping turns a reviewer-supplied label -> participant reference
// mapping into label -> display name. A reference may be a participant id,
// email or name; unmatched references are used as names verbatim.
func ResolveMapping(raw map[string]string, participants []Participant) LabelMapping {
	byRef := make(map[string]string)
	for _, p := range participants {
		name := p.Name
		if name == "" {
			name = "Участник"
		}
		for _, ref := range []string{p.ID, p.Email, p.Name} {
			if ref != "" {
				byRef[ref] = name
			}
		}
	}

	mapping := make(LabelMapping, len(raw))
	for label, ref := range raw {
		label = strings.TrimSpace(label)
		ref = strings.TrimSpace(ref)
		if label == "" || ref == "" {
			continue
		}
		if name, ok := byRef[ref]; ok {
			mapping[label] = name
			continue
		}
		mapping[label] = ref
	}
	return mapping
}
