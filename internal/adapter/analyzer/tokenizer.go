package analyzer

import (
	"strings"
	"unicode"
)

// Tokenizer splits prose into lowercase terms. Figures stay whole, so
// "10%", "10.5" and "1,200" are single tokens. Possessive "'s" is dropped
// and hyphenated words are split.
type Tokenizer struct {
	stopwords map[string]struct{}
}

func NewTokenizer() *Tokenizer {
	return &Tokenizer{stopwords: stopwordSet}
}

// Tokenize returns the content terms of text: stopwords and one-letter
// words are dropped, numbers are always kept.
func (t *Tokenizer) Tokenize(text string) []string {
	var tokens []string
	scan(text, func(term string, numeric bool) {
		if !numeric {
			if len([]rune(term)) < 2 {
				return
			}
			if _, stop := t.stopwords[term]; stop {
				return
			}
		}
		tokens = append(tokens, term)
	})
	return tokens
}

// CountTokens estimates how many model tokens text costs: about four
// tokens per three words, plus one per punctuation mark.
func (t *Tokenizer) CountTokens(text string) int {
	words := 0
	scan(text, func(string, bool) { words++ })

	marks := 0
	for _, r := range text {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			marks++
		}
	}
	return (words*4+2)/3 + marks
}

// scan calls emit for every term in text, lowercased. numeric is true for
// terms that start with a digit.
func scan(text string, emit func(term string, numeric bool)) {
	runes := []rune(text)
	isWord := func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }

	for i := 0; i < len(runes); {
		if !isWord(runes[i]) {
			i++
			continue
		}

		numeric := unicode.IsDigit(runes[i])
		var b strings.Builder
	term:
		for i < len(runes) {
			r := runes[i]
			switch {
			case isWord(r):
				b.WriteRune(unicode.ToLower(r))
				i++
			case (r == '.' || r == ',') && numeric && unicode.IsDigit(runes[i-1]) &&
				i+1 < len(runes) && unicode.IsDigit(runes[i+1]):
				if r == '.' {
					b.WriteRune(r)
				}
				i++
			case (r == '\'' || r == '’') && i+1 < len(runes) && unicode.IsLetter(runes[i+1]):
				// possessive 's is dropped, other contractions are joined
				if unicode.ToLower(runes[i+1]) == 's' && (i+2 == len(runes) || !isWord(runes[i+2])) {
					i += 2
					break term
				}
				i++
			case r == '%' && numeric:
				b.WriteRune(r)
				i++
				break term
			default:
				break term
			}
		}
		emit(b.String(), numeric)
	}
}

var stopwordSet = func() map[string]struct{} {
	words := strings.Fields(`
		a an the and or but nor so yet if then than
		of in on at to for from by with into onto about over under
		as is are was were be been being am
		do does did done has have had having
		it its this that these those there here
		he she they them their his her we our you your
		i me my us
		can could would should will shall may might must
		who whom whose which what when where why how
		all any both each every few more most other some such
		no not only own same too very just also
	`)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}()
