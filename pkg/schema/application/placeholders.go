package application

import "regexp"

// placeholderPattern matches `{{ id }}` tokens in command bodies. Only bare
// identifiers are recognized; anything else inside braces is left alone.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Placeholders returns every placeholder identifier referenced in s, in
// order of first appearance, without duplicates.
func Placeholders(s string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// Expand replaces every placeholder in s using resolve. Identifiers resolve
// fails on are left in place and reported in the second return, in order of
// first appearance.
func Expand(s string, resolve func(id string) (string, bool)) (string, []string) {
	var missing []string
	seen := make(map[string]bool)
	expanded := placeholderPattern.ReplaceAllStringFunc(s, func(token string) string {
		id := placeholderPattern.FindStringSubmatch(token)[1]
		value, ok := resolve(id)
		if !ok {
			if !seen[id] {
				seen[id] = true
				missing = append(missing, id)
			}
			return token
		}
		return value
	})
	return expanded, missing
}
