package analyzer

import "sort"

// Attribute/context scoring weights. The split between strict and weak hits
// mirrors the pattern descriptors; label sources carry per-source confidence.
const (
	scoreStrictAttr   = 30
	scoreWeakAttr     = 12
	scoreTypeMatch    = 25
	scoreTagMatch     = 10
	scoreLabelStrict  = 25
	scoreThStrict     = 22
	scoreAriaStrict   = 20
	scorePlaceholder  = 15
	scoreParentClass  = 8
	scorePositionTop  = 5
	penaltyNegative   = -30
	penaltyTypeClash  = -20
	penaltyExclude    = -1000 // exclusion is effectively a veto
)

type scored struct {
	el    *Element
	score int
}

// quickScore ranks a candidate using attributes only; constant time per
// element. Used to cut the pool to top-K before full scoring.
func quickScore(p *FieldPattern, el *Element) int {
	blob := el.AttrBlob()
	s := 0
	s += scoreStrictAttr * countTokenHits(blob, p.Strict)
	s += scoreWeakAttr * countTokenHits(blob, p.Weak)
	if containsAnyToken(blob, p.Exclude) {
		s += penaltyExclude
	}
	if typeMatchesStrongly(p, el) {
		s += scoreTypeMatch
	}
	return s
}

// fullScore combines attribute signals, label/context text hits, type/tag
// match, position, parent-class hints, negative signals and the required
// boost (added exactly once).
func fullScore(p *FieldPattern, el *Element, req *RequiredInfo) int {
	s := quickScore(p, el)

	lab := el.LabelText
	if countTokenHits(lab, p.Strict)+countTokenHits(lab, p.Context) > 0 {
		s += scoreLabelStrict
	}
	if countTokenHits(el.ThText, p.Strict)+countTokenHits(el.ThText, p.Context) > 0 {
		s += scoreThStrict
	}
	if countTokenHits(el.AriaLabelText, p.Strict)+countTokenHits(el.AriaLabelText, p.Context) > 0 {
		s += scoreAriaStrict
	}
	if countTokenHits(el.Placeholder, p.Strict)+countTokenHits(el.Placeholder, p.Context) > 0 {
		s += scorePlaceholder
	}
	if countTokenHits(lower(el.ParentClass), p.Strict) > 0 {
		s += scoreParentClass
	}
	if el.Tag == "textarea" && tagAccepted(p, "textarea") {
		s += scoreTagMatch
	}
	if el.BBox.Y > 0 && el.BBox.Y < 2000 {
		s += scorePositionTop
	}

	// Negative signals: search/login/confirm tokens anywhere around a field
	// that is not itself a confirmation target.
	ctx := el.AttrBlob() + " " + lower(el.ContextBlob())
	if containsAnyToken(ctx, searchLoginTokens) {
		s += penaltyNegative
	}
	if p.Field != FieldEmail && containsAnyToken(el.AttrBlob(), confirmTokens) {
		s += penaltyNegative
	}
	if el.Tag == "input" && !typeAccepted(p, el) {
		s += penaltyTypeClash
	}

	if req.IsRequired(el) {
		boost := p.RequiredBoost
		if boost == 0 {
			boost = requiredBoostDefault
		}
		s += boost
	}
	return s
}

// typeMatchesStrongly reports a dedicated input type for the field (email,
// tel, url), which is the strongest single signal.
func typeMatchesStrongly(p *FieldPattern, el *Element) bool {
	if el.Tag != "input" {
		return false
	}
	switch p.Field {
	case FieldEmail:
		return el.Type == "email"
	case FieldPhone, FieldPhone1, FieldPhone2, FieldPhone3:
		return el.Type == "tel"
	case FieldURL:
		return el.Type == "url"
	}
	return false
}

func tagAccepted(p *FieldPattern, tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// rankCandidates quick-scores the pool and keeps the top-K, K depending on
// whether the field is essential.
func rankCandidates(p *FieldPattern, pool []*Element) []*Element {
	k := quickRankTopK
	if p.Essential {
		k = quickRankTopKEssential
	}
	ranked := make([]scored, 0, len(pool))
	for _, el := range pool {
		ranked = append(ranked, scored{el, quickScore(p, el)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]*Element, len(ranked))
	for i, s := range ranked {
		out[i] = s.el
	}
	return out
}

// strictLabelMatch reports a strict-pattern hit in the element's label
// sources; combined with a strong type match it triggers the early stop.
func strictLabelMatch(p *FieldPattern, el *Element) bool {
	for _, t := range []string{el.LabelText, el.ThText, el.AriaLabelText} {
		if countTokenHits(t, p.Strict) > 0 {
			return true
		}
	}
	return false
}
