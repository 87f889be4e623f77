package navigation

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/pbaille/canvas/internal/domain"
)

// DefaultSlugLength caps slugs derived from entry text
const DefaultSlugLength = 40

// Slug derives a URL segment from entry text: lowercased, non-alphanumerics
// stripped, spaces turned into hyphens, truncated to max runes.
func Slug(text string, max int) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(text) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			lastHyphen = false
		case unicode.IsSpace(r) || r == '-' || r == '_':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	s := strings.Trim(b.String(), "-")
	if max > 0 && len(s) > max {
		s = strings.TrimRight(s[:max], "-")
	}
	return s
}

// baseSlug picks the text used for an entry's slug, falling back to media names
func baseSlug(e *domain.Entry, max int) string {
	if s := Slug(e.Text, max); s != "" {
		return s
	}
	if e.Media != nil {
		for _, candidate := range []string{e.Media.Title, e.Media.Name} {
			if s := Slug(candidate, max); s != "" {
				return s
			}
		}
	}
	if len(e.Links) > 0 {
		if s := Slug(e.Links[0].Title, max); s != "" {
			return s
		}
	}
	return "entry"
}

// SiblingSlugs assigns unique slugs to siblings (given in creation order):
// the first entry with a base keeps it, later ones get "-2", "-3", ...
func SiblingSlugs(siblings []*domain.Entry, max int) map[string]string {
	out := make(map[string]string, len(siblings))
	used := make(map[string]bool, len(siblings))
	for _, e := range siblings {
		base := baseSlug(e, max)
		slug := base
		for n := 2; used[slug]; n++ {
			slug = base + "-" + strconv.Itoa(n)
		}
		used[slug] = true
		out[e.ID] = slug
	}
	return out
}
