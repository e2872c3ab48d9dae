package lang

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Candidate language names are ranked in two stages:
//
//  1. Phonetic filtering: Double Metaphone codes are computed for each word of
//     the input and of each name. A shared code makes the name a phonetic
//     candidate, accepted when its Jaro-Winkler score reaches phoneticThreshold.
//
//  2. Fuzzy fallback: when no phonetic candidate qualifies, pure Jaro-Winkler
//     similarity is used with the stricter fuzzyThreshold.
//
// Ties keep the earliest name, so catalogue order decides between
// "Chinese (Simplified)" and "Chinese (Traditional)".
const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

var defaultMatcher = matcher{
	phoneticThreshold: defaultPhoneticThreshold,
	fuzzyThreshold:    defaultFuzzyThreshold,
}

type matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// match returns the name most similar to input. When matched is false, name
// is empty and score is 0.
func (m matcher) match(input string, names []string) (name string, score float64, matched bool) {
	inputTokens := tokens(input)
	if len(inputTokens) == 0 {
		return "", 0, false
	}
	inputCodes := codesForTokens(inputTokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, n := range names {
		nameTokens := tokens(n)
		if len(nameTokens) == 0 {
			continue
		}
		jw := bestJWScore(inputTokens, nameTokens)

		if codesOverlap(inputCodes, codesForTokens(nameTokens)) {
			if jw >= m.phoneticThreshold && (!bestPhonetic || jw > bestScore) {
				best, bestScore, bestPhonetic = n, jw, true
			}
		} else if !bestPhonetic && jw >= m.fuzzyThreshold && jw > bestScore {
			best, bestScore = n, jw
		}
	}
	if best == "" {
		return "", 0, false
	}
	return best, bestScore, true
}

// tokens lowercases s and splits it on anything that is not a letter.
func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity over the joined strings,
// the space-stripped strings and every token pair.
func bestJWScore(inputTokens, nameTokens []string) float64 {
	score := matchr.JaroWinkler(strings.Join(inputTokens, " "), strings.Join(nameTokens, " "), false)
	if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(nameTokens, ""), false); s > score {
		score = s
	}
	for _, it := range inputTokens {
		for _, nt := range nameTokens {
			if s := matchr.JaroWinkler(it, nt, false); s > score {
				score = s
			}
		}
	}
	return score
}
