// Package reference finds @path tokens in message text and resolves
// them to repository file content.
package reference

import (
	"regexp"
	"unicode/utf8"
)

// refPattern matches @ followed by one or more non-whitespace
// characters, excluding further @. A trailing lone @ never matches.
var refPattern = regexp.MustCompile(`@([^\s@]+)`)

// Ref is one @path token found in message text.
type Ref struct {
	Path   string `json:"path"`   // candidate file path, without the leading @
	Raw    string `json:"raw"`    // exact matched substring, including the @
	Offset int    `json:"offset"` // rune offset of the @ within the text
}

// ParseRefs scans text for @path tokens in order of appearance. It is a
// pure function: no validation against the real file tree happens here,
// and repeated references to the same path are each reported.
func ParseRefs(text string) []Ref {
	matches := refPattern.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	refs := make([]Ref, 0, len(matches))
	for _, m := range matches {
		raw := text[m[0]:m[1]]
		refs = append(refs, Ref{
			Path:   raw[1:],
			Raw:    raw,
			Offset: utf8.RuneCountInString(text[:m[0]]),
		})
	}
	return refs
}

// UniquePaths returns the distinct paths from refs in first-seen order.
func UniquePaths(refs []Ref) []string {
	if len(refs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(refs))
	paths := make([]string, 0, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref.Path]; ok {
			continue
		}
		seen[ref.Path] = struct{}{}
		paths = append(paths, ref.Path)
	}
	return paths
}
