// Package slug derives unique, URL-safe article identifiers.
package slug

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"hatewatch/internal/config"
	"hatewatch/internal/model"
)

// ExistsFunc reports whether a slug is already taken in the store. Only the
// counter strategy probes.
type ExistsFunc func(ctx context.Context, slug string) (bool, error)

// Generator builds slugs from article content. A slug is assigned exactly
// once, before the first persistence attempt, and never recomputed.
type Generator struct {
	strategy   string
	maxBaseLen int
	maxLen     int
	maxProbes  int
	exists     ExistsFunc
}

// New builds a generator from the slug settings in cfg. exists may be nil
// when the tweet-id strategy is configured.
func New(cfg *config.Config, exists ExistsFunc) *Generator {
	return &Generator{
		strategy:   cfg.SlugStrategy,
		maxBaseLen: cfg.SlugMaxBaseLen,
		maxLen:     cfg.SlugMaxLen,
		maxProbes:  cfg.SlugMaxProbes,
		exists:     exists,
	}
}

// Generate returns a slug for the article. The base comes from the title,
// falling back to the tweet text; the disambiguator depends on the
// configured strategy. The base is truncated before the disambiguator is
// appended so the uniqueness suffix is never clipped.
//
// The counter strategy's probe-then-insert is inherently racy under
// concurrent insertion; the store's unique constraint is the authority, and
// an insert-time duplicate means "generate again and retry".
func (g *Generator) Generate(ctx context.Context, a *model.Article) (string, error) {
	base, err := g.base(a)
	if err != nil {
		return "", err
	}

	switch g.strategy {
	case config.SlugStrategyCounter:
		return g.probe(ctx, base)
	default:
		return g.withSuffix(base, "_"+strconv.FormatInt(a.TweetID, 10)), nil
	}
}

func (g *Generator) base(a *model.Article) (string, error) {
	source := ""
	if a.Title != nil {
		source = *a.Title
	}
	if source == "" {
		source = a.Text
	}
	if source == "" {
		return "", fmt.Errorf("article %d: %w", a.TweetID, model.ErrEmptyTitle)
	}

	base := Slugify(source)
	if base == "" {
		// Sanitization stripped everything; the numeric id alone still
		// yields a usable non-empty base.
		if a.TweetID == 0 {
			return "", fmt.Errorf("article %d: %w", a.TweetID, model.ErrEmptySlugBase)
		}
		base = strconv.FormatInt(a.TweetID, 10)
	}

	if len(base) > g.maxBaseLen {
		base = strings.TrimRight(base[:g.maxBaseLen], "-")
	}
	return base, nil
}

func (g *Generator) probe(ctx context.Context, base string) (string, error) {
	candidate := base
	for i := 1; i <= g.maxProbes; i++ {
		taken, err := g.exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("probe slug %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
		candidate = g.withSuffix(base, "_"+strconv.Itoa(i+1))
	}
	return "", fmt.Errorf("no free slug for %q after %d probes", base, g.maxProbes)
}

// withSuffix appends the disambiguator, shortening the base rather than the
// suffix when the bound would be exceeded.
func (g *Generator) withSuffix(base, suffix string) string {
	if len(base)+len(suffix) > g.maxLen {
		base = strings.TrimRight(base[:g.maxLen-len(suffix)], "-")
	}
	return base + suffix
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify lowercases, transliterates accented letters and collapses runs of
// non-alphanumerics into single hyphens. The result may be empty when the
// input carries no alphanumeric content.
func Slugify(s string) string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}

	out := make([]rune, 0, len(folded))
	lastDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(folded)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			lastDash = false
			continue
		}
		if !lastDash && len(out) > 0 {
			out = append(out, '-')
			lastDash = true
		}
	}
	return strings.Trim(string(out), "-")
}
