package domain

import "strings"

// NormalizeTags trims every tag and drops empty and duplicate entries,
// keeping the first occurrence. The result is never nil.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// AddTag returns tags with tag appended unless it is blank or already present.
func AddTag(tags []string, tag string) []string {
	return NormalizeTags(append(append([]string(nil), tags...), tag))
}

func RemoveTag(tags []string, tag string) []string {
	out := make([]string, 0, len(tags))
	for _, existing := range tags {
		if existing != tag {
			out = append(out, existing)
		}
	}
	return out
}
