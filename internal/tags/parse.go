// Package tags parses message tags and serves the most used ones.
package tags

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	MaxTags   = 5
	MaxLength = 25
)

var (
	ErrTooMany    = errors.New("too many tags")
	tagNameRegexp = regexp.MustCompile(`^[\p{L}\d][\p{L}\d .+#-]*$`)
)

// Parse splits a comma separated tag string. Tags are trimmed, lowercased and
// deduplicated in input order. An empty string yields an empty, non-nil set.
func Parse(raw string) ([]string, error) {
	result := make([]string, 0)
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		tag := strings.ToLower(strings.TrimSpace(part))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		if len([]rune(tag)) > MaxLength {
			return nil, fmt.Errorf("tag %q is longer than %d characters", tag, MaxLength)
		}
		if !tagNameRegexp.MatchString(tag) {
			return nil, fmt.Errorf("tag %q contains invalid characters", tag)
		}
		seen[tag] = struct{}{}
		result = append(result, tag)
	}
	if len(result) > MaxTags {
		return nil, fmt.Errorf("%w: at most %d allowed", ErrTooMany, MaxTags)
	}
	return result, nil
}
