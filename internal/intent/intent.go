// Package intent derives topic keywords and query variants from free-text
// playlist searches. It is a deterministic offline rule table: matching is
// case-insensitive and Cyrillic-aware, and no network inference is involved.
package intent

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// MaxVariants caps the generated variant list.
	MaxVariants = 16
	// minVariantLength drops degenerate variants.
	minVariantLength = 4
)

type topic struct {
	name     string
	markers  []string
	keywords []string
}

// Marker substrings are matched against the normalized query. Cyrillic stems
// are listed next to their Latin counterparts so either script triggers the
// topic.
var topics = []topic{
	{
		name:     "russian",
		markers:  []string{"russia", "russian", "росси", "русск", "ру тв"},
		keywords: []string{"russian", "ru"},
	},
	{
		name:     "world",
		markers:  []string{"world", "global", "international", "миров", "зарубеж"},
		keywords: []string{"world", "international"},
	},
	{
		name:     "sport",
		markers:  []string{"sport", "football", "soccer", "hockey", "спорт", "футбол", "хокке"},
		keywords: []string{"sport", "sports"},
	},
	{
		name:     "movie",
		markers:  []string{"movie", "film", "series", "cinema", "кино", "фильм", "сериал"},
		keywords: []string{"movies", "cinema"},
	},
	{
		name:     "news",
		markers:  []string{"news", "новост"},
		keywords: []string{"news"},
	},
	{
		name:     "kids",
		markers:  []string{"kids", "children", "cartoon", "детск", "мульт"},
		keywords: []string{"kids", "cartoons"},
	},
	{
		name:     "music",
		markers:  []string{"music", "музык"},
		keywords: []string{"music"},
	},
}

// InferKeywords matches the query (plus any manual keywords) against the
// topic tables and returns the contributed keywords as an ordered,
// deduplicated set. Manual keywords come first and are preserved verbatim.
func InferKeywords(query string, manualKeywords []string) []string {
	matched := matchTopics(query, manualKeywords)

	out := make([]string, 0, len(manualKeywords)+len(matched)*2)
	seen := make(map[string]struct{})
	appendKeyword := func(keyword string) {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			return
		}
		if _, exists := seen[keyword]; exists {
			return
		}
		seen[keyword] = struct{}{}
		out = append(out, keyword)
	}

	for _, keyword := range manualKeywords {
		appendKeyword(keyword)
	}
	for _, t := range matched {
		for _, keyword := range t.keywords {
			appendKeyword(keyword)
		}
	}
	return out
}

// BuildVariants produces alternative queries to try after the direct ones:
// topic templates, site-scoped templates, keyword-augmented forms and a
// transliterated pass for Cyrillic input. Deduplicated, length-filtered and
// capped at MaxVariants.
func BuildVariants(query string, manualKeywords, inferredKeywords []string) []string {
	base := strings.TrimSpace(query)
	matched := matchTopics(query, manualKeywords)

	variants := make([]string, 0, MaxVariants)
	seen := make(map[string]struct{})
	appendVariant := func(variant string) {
		variant = strings.Join(strings.Fields(variant), " ")
		if len(variant) < minVariantLength {
			return
		}
		key := strings.ToLower(variant)
		if _, exists := seen[key]; exists {
			return
		}
		if len(variants) >= MaxVariants {
			return
		}
		seen[key] = struct{}{}
		variants = append(variants, variant)
	}

	if base != "" {
		appendVariant(base + " iptv m3u")
		appendVariant(base + " playlist m3u8")
	}
	for _, t := range matched {
		appendVariant(t.name + " tv channels iptv m3u8")
		appendVariant("site:github.com " + t.name + " iptv m3u")
	}
	for _, keyword := range inferredKeywords {
		if base != "" && !containsToken(base, keyword) {
			appendVariant(base + " " + keyword + " m3u")
		}
	}
	if hasCyrillic(base) {
		translit := TransliterateCyrillic(base)
		if translit != "" && !strings.EqualFold(translit, base) {
			appendVariant(translit + " iptv m3u")
			appendVariant(translit + " tv playlist m3u8")
		}
	}
	return variants
}

func matchTopics(query string, manualKeywords []string) []topic {
	haystack := normalizeText(query + " " + strings.Join(manualKeywords, " "))
	matched := make([]topic, 0, len(topics))
	for _, t := range topics {
		for _, marker := range t.markers {
			if strings.Contains(haystack, marker) {
				matched = append(matched, t)
				break
			}
		}
	}
	return matched
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeText lowercases, strips diacritics and collapses ё to е so marker
// matching works across spelling variants.
func normalizeText(input string) string {
	lowered := strings.ToLower(strings.TrimSpace(input))
	folded, _, err := transform.String(foldTransformer, lowered)
	if err != nil {
		folded = lowered
	}
	return strings.ReplaceAll(folded, "ё", "е")
}

func containsToken(text, token string) bool {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return true
	}
	for _, field := range strings.Fields(strings.ToLower(text)) {
		if field == token {
			return true
		}
	}
	return false
}

func hasCyrillic(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Cyrillic, r) {
			return true
		}
	}
	return false
}

// TransliterateCyrillic maps Cyrillic letters to a deterministic Latin
// rendering; unmapped Cyrillic runes are dropped, everything else passes
// through.
func TransliterateCyrillic(input string) string {
	var builder strings.Builder
	builder.Grow(len(input))
	for _, r := range input {
		if mapped, ok := cyrillicToLatin[unicode.ToLower(r)]; ok {
			builder.WriteString(mapped)
			continue
		}
		if unicode.Is(unicode.Cyrillic, r) {
			continue
		}
		builder.WriteRune(r)
	}
	return strings.TrimSpace(builder.String())
}

var cyrillicToLatin = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "e", 'ж': "zh",
	'з': "z", 'и': "i", 'й': "i", 'к': "k", 'л': "l", 'м': "m", 'н': "n", 'о': "o",
	'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u", 'ф': "f", 'х': "h", 'ц': "ts",
	'ч': "ch", 'ш': "sh", 'щ': "sch", 'ы': "y", 'э': "e", 'ю': "yu", 'я': "ya",
	'ь': "", 'ъ': "",
}
