package analyzer

import (
	"strings"
	"unicode"
)

// unsafeSingleCJK are single CJK characters that produce false positives as
// suffixes of unrelated compounds (マンション名, ふりがな etc). They only
// match when the surrounding characters do not extend the compound in a way
// that changes the meaning.
var unsafeSingleCJK = map[string][]string{
	// 名 must not match as the tail of a noun+名 compound.
	"名": {"マンション", "ビル", "建物", "会社", "法人", "学校", "店舗", "部署", "商品", "件"},
	// 姓 is explicitly allowed to match 姓名; no blockers.
}

func lower(s string) string { return strings.ToLower(s) }

func clip(s string, max int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max])
}

func isASCIIWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana) ||
		(r >= 0xFF00 && r <= 0xFFEF) // full-width forms
}

// ContainsTokenWithBoundary reports whether text contains token with
// CJK-aware boundaries. ASCII tokens use word boundaries (so "mail" does not
// match "mailing", but does match "e-mail"). CJK tokens
// allow compound embedding (氏名 matches ご担当者氏名) but unsafe single
// characters are blocked when the preceding text forms a known compound
// (名 does not match マンション名; 姓 matches 姓名).
func ContainsTokenWithBoundary(text, token string) bool {
	if token == "" || text == "" {
		return false
	}

	tokenIsASCII := true
	for _, r := range token {
		if r > unicode.MaxASCII {
			tokenIsASCII = false
			break
		}
	}

	if tokenIsASCII {
		lt, ltok := lower(text), lower(token)
		for start := 0; ; {
			i := strings.Index(lt[start:], ltok)
			if i < 0 {
				return false
			}
			i += start
			before := i == 0 || !isASCIIWordByte(lt[i-1])
			afterIdx := i + len(ltok)
			after := afterIdx >= len(lt) || !isASCIIWordByte(lt[afterIdx])
			if before && after {
				return true
			}
			start = i + 1
			if start >= len(lt) {
				return false
			}
		}
	}

	// CJK: compound embedding is fine, but check blockers for unsafe single
	// characters.
	blockers, unsafe := unsafeSingleCJK[token]
	runes := []rune(text)
	tok := []rune(token)
	for i := 0; i+len(tok) <= len(runes); i++ {
		if string(runes[i:i+len(tok)]) != token {
			continue
		}
		if !unsafe {
			return true
		}
		prefix := string(runes[:i])
		blocked := false
		for _, b := range blockers {
			if strings.HasSuffix(prefix, b) {
				blocked = true
				break
			}
		}
		if !blocked {
			return true
		}
	}
	return false
}

// containsAnyToken reports whether any of tokens matches text with boundary
// rules.
func containsAnyToken(text string, tokens []string) bool {
	for _, t := range tokens {
		if ContainsTokenWithBoundary(text, t) {
			return true
		}
	}
	return false
}

// countTokenHits counts how many of tokens match text.
func countTokenHits(text string, tokens []string) int {
	n := 0
	for _, t := range tokens {
		if ContainsTokenWithBoundary(text, t) {
			n++
		}
	}
	return n
}

// hasCJK reports whether s contains any CJK rune.
func hasCJK(s string) bool {
	for _, r := range s {
		if isCJK(r) {
			return true
		}
	}
	return false
}
