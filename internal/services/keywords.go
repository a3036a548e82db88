package services

import (
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"
)

// KeywordExtractor pulls content words out of a question so the retriever
// can apply a small keyword-overlap boost on top of vector similarity.
type KeywordExtractor struct {
	stopWords map[string]bool
	minLength int
}

// NewKeywordExtractor creates an extractor with Spanish and English stop
// words; patient questions arrive in both.
func NewKeywordExtractor() *KeywordExtractor {
	stopWords := map[string]bool{
		// Spanish
		"el": true, "la": true, "los": true, "las": true, "un": true, "una": true,
		"de": true, "del": true, "en": true, "con": true, "por": true, "para": true,
		"que": true, "cual": true, "cuál": true, "como": true, "cómo": true,
		"cuando": true, "cuándo": true, "donde": true, "dónde": true, "quien": true,
		"quién": true, "es": true, "son": true, "fue": true, "tiene": true,
		"tengo": true, "mi": true, "mis": true, "su": true, "sus": true, "y": true,
		"o": true, "a": true, "al": true, "se": true, "me": true, "le": true,
		// English
		"the": true, "an": true, "and": true, "or": true, "in": true, "on": true,
		"at": true, "to": true, "for": true, "of": true, "with": true, "by": true,
		"is": true, "are": true, "was": true, "were": true, "what": true,
		"which": true, "who": true, "when": true, "where": true, "how": true,
		"my": true, "do": true, "does": true, "did": true, "have": true, "has": true,
	}

	return &KeywordExtractor{
		stopWords: stopWords,
		minLength: 3,
	}
}

// Extract returns the distinct lowercase content words of text, in order
// of first appearance. A parse failure yields nil; the boost is
// best-effort and retrieval never fails on it.
func (ke *KeywordExtractor) Extract(text string) []string {
	doc, err := prose.NewDocument(text)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var keywords []string
	for _, tok := range doc.Tokens() {
		word := strings.ToLower(strings.Trim(tok.Text, ".,!?;:¿¡"))
		if len([]rune(word)) < ke.minLength || ke.stopWords[word] || seen[word] {
			continue
		}
		if !hasLetter(word) {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
	}
	return keywords
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
