package domain

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxTagCount  = 5
	MaxTagLength = 10
)

// Tag is a globally shared label, unique by normalized name.
type Tag struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// NormalizeTag lower-cases raw and strips all whitespace. Letters, digits and
// "+#-_." are allowed; the result must be 1..MaxTagLength runes.
func NormalizeTag(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case unicode.IsSpace(r):
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("+#-_.", r):
			b.WriteRune(unicode.ToLower(r))
		default:
			return "", &FieldError{Field: "tags", Reason: fmt.Sprintf("tag %q contains an unsupported character", raw)}
		}
	}
	name := b.String()
	if name == "" {
		return "", &FieldError{Field: "tags", Reason: "tag must not be empty"}
	}
	if utf8.RuneCountInString(name) > MaxTagLength {
		return "", &FieldError{Field: "tags", Reason: fmt.Sprintf("tag %q is longer than %d characters", raw, MaxTagLength)}
	}
	return name, nil
}

// NormalizeTags normalizes and de-duplicates tags, keeping first-seen order.
func NormalizeTags(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		name, err := NormalizeTag(r)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	if len(out) > MaxTagCount {
		return nil, &FieldError{Field: "tags", Reason: fmt.Sprintf("at most %d tags are allowed", MaxTagCount)}
	}
	return out, nil
}
