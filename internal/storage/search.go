package storage

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SearchProfile controls how text is prepared for the full-text index. The
// tokenizer already folds diacritics; the profile additionally strips the
// language's stopwords so that index hits match content words only.
type SearchProfile struct {
	Language  string
	stopwords map[string]struct{}
}

// Stopword lists are matched after diacritic folding.
var (
	spanishStopwords = []string{
		"de", "la", "que", "el", "en", "y", "a", "los", "del", "se", "las",
		"por", "un", "para", "con", "no", "una", "su", "al", "lo", "como",
		"mas", "pero", "sus", "le", "ya", "o", "este", "si", "es", "esta",
	}
	englishStopwords = []string{
		"the", "a", "an", "and", "or", "of", "to", "in", "is", "it", "for",
		"on", "with", "as", "was", "at", "by", "be", "this", "that",
	}
)

// NewSearchProfile returns the profile for a language. Unknown languages get
// an empty stopword set, indexing all words.
func NewSearchProfile(language string) SearchProfile {
	p := SearchProfile{Language: language, stopwords: map[string]struct{}{}}

	var words []string
	switch strings.ToLower(language) {
	case "spanish", "es":
		words = spanishStopwords
	case "english", "en":
		words = englishStopwords
	}
	for _, w := range words {
		p.stopwords[w] = struct{}{}
	}
	return p
}

var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// IndexText prepares text for FTS insertion: lower-cases, folds diacritics
// and drops stopwords, preserving word order.
func (p SearchProfile) IndexText(s string) string {
	folded, _, err := transform.String(foldDiacritics, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}

	fields := strings.Fields(folded)
	kept := fields[:0]
	for _, w := range fields {
		if _, stop := p.stopwords[strings.Trim(w, ".,;:!?¡¿\"'()")]; stop {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// QueryText prepares a user query the same way the indexed text was
// prepared, so query terms line up with index terms. Each term is quoted so
// that FTS5 operator characters in the input read as plain text, never as
// query syntax.
func (p SearchProfile) QueryText(s string) string {
	folded, _, err := transform.String(foldDiacritics, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}

	var terms []string
	for _, w := range strings.Fields(folded) {
		w = strings.Trim(w, ".,;:!?¡¿\"'()")
		if w == "" {
			continue
		}
		if _, stop := p.stopwords[w]; stop {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(w, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " ")
}
