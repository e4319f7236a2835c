package flows

import (
	"strconv"
	"strings"
)

// Slugify lowercases s and joins its alphanumeric runs with "-"
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// SlugSet hands out unique slugs
type SlugSet struct {
	used map[string]bool
}

// NewSlugSet starts from the slugs already taken
func NewSlugSet(existing map[string]bool) *SlugSet {
	used := make(map[string]bool, len(existing))
	for s := range existing {
		used[s] = true
	}
	return &SlugSet{used: used}
}

// Claim returns the slug of name, suffixed -2, -3, ... on collision
func (s *SlugSet) Claim(name string) string {
	base := Slugify(name)
	if base == "" {
		base = "flow"
	}
	slug := base
	for n := 2; s.used[slug]; n++ {
		slug = base + "-" + strconv.Itoa(n)
	}
	s.used[slug] = true
	return slug
}

// Release frees slug for a later Claim
func (s *SlugSet) Release(slug string) {
	delete(s.used, slug)
}
