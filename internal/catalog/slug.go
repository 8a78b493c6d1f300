package catalog

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	MaxSlugLen    = 80
	maxSlugProbes = 50
)

// Slugify lower-cases s, strips accents and joins ASCII alphanumeric runs
// with single dashes. An empty result yields fallback.
func Slugify(s, fallback string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	dash := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if b.Len() > 0 && !dash {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > MaxSlugLen {
		slug = strings.TrimRight(slug[:MaxSlugLen], "-")
	}
	if slug == "" {
		return fallback
	}
	return slug
}

// SlugExists reports whether a candidate slug is already taken.
type SlugExists func(ctx context.Context, candidate string) (bool, error)

// UniqueSlug probes base, base-1, base-2 and so on. When every probe is taken
// it falls back to a short random suffix.
func UniqueSlug(ctx context.Context, base string, exists SlugExists) (string, error) {
	if base == "" {
		base = "item"
	}
	for i := 0; i <= maxSlugProbes; i++ {
		candidate := withSuffix(base, i)
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("probe slug %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return trimForSuffix(base, 9) + "-" + uuid.NewString()[:8], nil
}

func withSuffix(base string, n int) string {
	if n == 0 {
		return base
	}
	suffix := fmt.Sprintf("-%d", n)
	return trimForSuffix(base, len(suffix)) + suffix
}

func trimForSuffix(base string, suffixLen int) string {
	if len(base)+suffixLen <= MaxSlugLen {
		return base
	}
	return strings.TrimRight(base[:MaxSlugLen-suffixLen], "-")
}
