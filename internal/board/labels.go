package board

import (
	"regexp"
	"strings"
)

const maxLabels = 20

var labelRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// NormalizeLabels lowercases, trims and dedupes labels, keeping the first 20.
// It fails on a label that is not a short slug.
func NormalizeLabels(in []string) (Labels, error) {
	seen := map[string]struct{}{}
	out := make(Labels, 0, len(in))

	for _, raw := range in {
		l := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "#")))
		if l == "" {
			continue
		}
		if !labelRe.MatchString(l) {
			return nil, invalidf("label %q", raw)
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)

		if len(out) >= maxLabels {
			break
		}
	}
	return out, nil
}
