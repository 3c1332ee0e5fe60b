package matcher

import (
	"strings"
	"unicode"
)

// 의미 없는 영어 불용어
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "been": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {}, "into": {},
	"is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "than": {}, "that": {},
	"the": {}, "this": {}, "to": {}, "was": {}, "were": {}, "will": {}, "with": {},
}

// tokenSet - 소문자 영숫자 토큰 집합 (불용어 제외)
func tokenSet(texts ...string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, text := range texts {
		fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, tok := range fields {
			if _, stop := stopWords[tok]; stop {
				continue
			}
			set[tok] = struct{}{}
		}
	}
	return set
}

// jaccard - |a ∩ b| / |a ∪ b|
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}
