package analyzer

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var phoneSplitPattern = regexp.MustCompile(`(?i)(?:tel|phone)[^\d]*([123])`)

var zipFamilyTokens = []string{"zip", "postal", "郵便", "〒", "上3桁", "下4桁"}

// Context tokens that disqualify a 姓/名 match as non-personal.
var nonPersonalNameTokens = []string{"住所", "マンション名", "ビル名", "建物名", "ふりがな", "フリガナ", "部署", "会社名", "店舗名"}

// PostProcess applies the ordered mapping refinements: split/unified name
// resolution, kana-vs-hiragana normalization, phone-triplet and postal-split
// promotion, required-rescue and multi-address assignment.
func PostProcess(mapping FieldMapping, b *Buckets, req *RequiredInfo) {
	resolveSplitNames(mapping)
	rejectNonPersonalNames(mapping)
	normalizeKanaHiragana(mapping)
	promotePhoneTriplet(mapping, b, req)
	promotePostalSplit(mapping, b, req)
	rescueRequired(mapping, b, req)
	assignAuxiliaryAddresses(mapping, b, req)
}

// resolveSplitNames drops the unified name when split 姓+名 are present, and
// analogously for kana and hiragana pairs.
func resolveSplitNames(mapping FieldMapping) {
	if mapping[FieldSei] != nil && mapping[FieldMei] != nil {
		delete(mapping, FieldUnifiedName)
	}
	if mapping[FieldSeiKana] != nil && mapping[FieldMeiKana] != nil {
		delete(mapping, FieldUnifiedKana)
	}
	if mapping[FieldSeiHira] != nil && mapping[FieldMeiHira] != nil {
		// Split hiragana covers the reading; the unified kana slot is noise.
		delete(mapping, FieldUnifiedKana)
	}
}

// rejectNonPersonalNames drops 姓/名 matches whose context names something
// other than a person.
func rejectNonPersonalNames(mapping FieldMapping) {
	for _, field := range []string{FieldSei, FieldMei} {
		m := mapping[field]
		if m == nil {
			continue
		}
		ctx := m.el.ContextBlob()
		for _, tok := range nonPersonalNameTokens {
			if strings.Contains(ctx, tok) {
				delete(mapping, field)
				break
			}
		}
	}
}

// normalizeKanaHiragana renames misclassified 姓/名カナ <-> 姓/名ひらがな
// based on attributes and context.
func normalizeKanaHiragana(mapping FieldMapping) {
	rename := func(from, to string) {
		if mapping[from] == nil || mapping[to] != nil {
			return
		}
		m := mapping[from]
		blob := m.el.AttrBlob() + " " + m.el.ContextBlob()
		wantHira := strings.Contains(blob, "ひらがな") || strings.Contains(blob, "hiragana") ||
			ContainsTokenWithBoundary(m.el.ContextBlob(), "せい") || ContainsTokenWithBoundary(m.el.ContextBlob(), "めい")
		isHiraField := strings.Contains(to, "ひらがな")
		if wantHira == isHiraField {
			m.Field = to
			mapping[to] = m
			delete(mapping, from)
		}
	}
	// カナ slot that actually asks for hiragana, and the reverse.
	for _, pair := range [][2]string{
		{FieldSeiKana, FieldSeiHira}, {FieldMeiKana, FieldMeiHira},
		{FieldSeiHira, FieldSeiKana}, {FieldMeiHira, FieldMeiKana},
	} {
		rename(pair[0], pair[1])
	}
	if mapping[FieldSeiHira] != nil && mapping[FieldMeiHira] != nil {
		delete(mapping, FieldUnifiedKana)
	}
}

// promotePhoneTriplet replaces 電話番号 with 電話番号1/2/3 when three
// tel/text inputs carry name|id|class matching (?:tel|phone)[^\d]*([123]).
// The promotion is idempotent: once split fields exist the single slot is
// gone and re-running finds nothing to do.
func promotePhoneTriplet(mapping FieldMapping, b *Buckets, req *RequiredInfo) {
	if mapping[FieldPhone1] != nil {
		return
	}
	parts := map[string]*Element{}
	pool := append(append([]*Element{}, b.TelInputs...), b.TextInputs...)
	pool = append(pool, b.NumberInputs...)
	for _, el := range pool {
		for _, attr := range []string{el.Name, el.ID, el.Class} {
			m := phoneSplitPattern.FindStringSubmatch(attr)
			if m == nil {
				continue
			}
			if _, taken := parts[m[1]]; !taken {
				parts[m[1]] = el
			}
			break
		}
	}
	if parts["1"] == nil || parts["2"] == nil || parts["3"] == nil {
		return
	}
	delete(mapping, FieldPhone)
	for i, field := range []string{FieldPhone1, FieldPhone2, FieldPhone3} {
		el := parts[fmt.Sprintf("%d", i+1)]
		mapping[field] = newMapped(field, el, earlyStopScore, SourcePromoteSplit, req)
	}
}

// promotePostalSplit replaces 郵便番号 with 郵便番号1/2 when two
// adjacent-in-DOM text/tel inputs both carry zip-family tokens and both are
// required.
func promotePostalSplit(mapping FieldMapping, b *Buckets, req *RequiredInfo) {
	if mapping[FieldPostal1] != nil {
		return
	}
	var zips []*Element
	pool := append(append([]*Element{}, b.TextInputs...), b.TelInputs...)
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].DOMIndex < pool[j].DOMIndex })
	for _, el := range pool {
		if containsAnyToken(el.AttrBlob()+" "+lower(el.ContextBlob()), zipFamilyTokens) {
			zips = append(zips, el)
		}
	}
	for i := 0; i+1 < len(zips); i++ {
		a, bEl := zips[i], zips[i+1]
		if bEl.DOMIndex-a.DOMIndex > 3 {
			continue
		}
		if !req.IsRequired(a) || !req.IsRequired(bEl) {
			continue
		}
		delete(mapping, FieldPostal)
		mapping[FieldPostal1] = newMapped(FieldPostal1, a, earlyStopScore, SourcePromoteSplit, req)
		mapping[FieldPostal2] = newMapped(FieldPostal2, bEl, earlyStopScore, SourcePromoteSplit, req)
		return
	}
}

var rescueRejectTokens = []string{"captcha", "token", "otp", "verification", "認証"}

// rescueRequired gives every still-unmapped visible required input a second
// chance: infer a logical name with the same attribute+context heuristics,
// or fall back to auto_required_text_N with a full-width space value.
// Radio/checkbox/select inputs never land here — those go to auto-handlers.
func rescueRequired(mapping FieldMapping, b *Buckets, req *RequiredInfo) {
	claimed := make(map[string]bool)
	for _, m := range mapping {
		claimed[m.Selector] = true
	}

	var pool []*Element
	pool = append(pool, b.TextInputs...)
	pool = append(pool, b.EmailInputs...)
	pool = append(pool, b.TelInputs...)
	pool = append(pool, b.NumberInputs...)
	pool = append(pool, b.Textareas...)
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].DOMIndex < pool[j].DOMIndex })

	autoIndex := 1
	for _, el := range pool {
		if claimed[el.Selector] || !req.IsRequired(el) || !el.Visible {
			continue
		}
		blob := el.AttrBlob()
		if containsAnyToken(blob, rescueRejectTokens) || containsAnyToken(blob, confirmTokens) {
			continue
		}
		field := inferLogicalField(el, mapping)
		if field == "" {
			field = fmt.Sprintf("auto_required_text_%d", autoIndex)
			autoIndex++
		}
		if mapping[field] != nil {
			continue
		}
		mapping[field] = newMapped(field, el, baseThreshold, SourceRequiredRescue, req)
		claimed[el.Selector] = true
	}
}

// inferLogicalField applies the attribute+context heuristics to name a
// rescued input, or returns "" when nothing fits.
func inferLogicalField(el *Element, mapping FieldMapping) string {
	blob := el.AttrBlob() + " " + lower(el.ContextBlob())
	switch {
	case el.Type == "email" || containsAnyToken(blob, []string{"email", "mail", "メール"}):
		if mapping[FieldEmail] == nil {
			return FieldEmail
		}
	case el.Type == "tel" || containsAnyToken(blob, []string{"tel", "phone", "電話"}):
		if mapping[FieldPhone] == nil && mapping[FieldPhone1] == nil {
			return FieldPhone
		}
	case el.Tag == "textarea" || containsAnyToken(blob, []string{"本文", "message", "inquiry", "内容"}):
		if mapping[FieldMessage] == nil {
			return FieldMessage
		}
	case containsAnyToken(blob, []string{"zip", "postal", "郵便", "〒"}):
		if mapping[FieldPostal] == nil && mapping[FieldPostal1] == nil {
			return FieldPostal
		}
	case containsAnyToken(blob, []string{"住所", "address", "所在地"}):
		if mapping[FieldAddress] == nil {
			return FieldAddress
		}
	case containsAnyToken(blob, []string{"sei", "姓", "last"}):
		if mapping[FieldSei] == nil && mapping[FieldUnifiedName] == nil {
			return FieldSei
		}
	case containsAnyToken(blob, []string{"mei", "名", "first"}):
		if mapping[FieldMei] == nil && mapping[FieldUnifiedName] == nil {
			return FieldMei
		}
	case containsAnyToken(blob, []string{"kana", "カナ", "フリガナ", "ふりがな"}):
		if mapping[FieldUnifiedKana] == nil && mapping[FieldSeiKana] == nil {
			return FieldUnifiedKana
		}
	case containsAnyToken(blob, []string{"name", "氏名", "お名前"}):
		if mapping[FieldUnifiedName] == nil && mapping[FieldSei] == nil {
			return FieldUnifiedName
		}
	}
	return ""
}

// assignAuxiliaryAddresses maps additional required address-like inputs to
// 住所_補助N slots.
func assignAuxiliaryAddresses(mapping FieldMapping, b *Buckets, req *RequiredInfo) {
	claimed := make(map[string]bool)
	for _, m := range mapping {
		claimed[m.Selector] = true
	}
	n := 1
	pool := append([]*Element{}, b.TextInputs...)
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].DOMIndex < pool[j].DOMIndex })
	for _, el := range pool {
		if claimed[el.Selector] || !req.IsRequired(el) {
			continue
		}
		blob := el.AttrBlob() + " " + lower(el.ContextBlob())
		if !containsAnyToken(blob, []string{"住所", "address", "addr", "市区町村", "番地", "建物"}) {
			continue
		}
		field := fmt.Sprintf("住所_補助%d", n)
		mapping[field] = newMapped(field, el, baseThreshold, SourceFallback, req)
		claimed[el.Selector] = true
		n++
	}
}
