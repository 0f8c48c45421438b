package analyzer

import "strings"

// Mapped is one logical-field-to-element decision.
type Mapped struct {
	Field           string `json:"field"`
	Selector        string `json:"selector"`
	Tag             string `json:"tag"`
	Type            string `json:"type"`
	Name            string `json:"name"`
	ID              string `json:"id"`
	Class           string `json:"class"`
	Placeholder     string `json:"placeholder"`
	Required        bool   `json:"required"`
	Score           int    `json:"score"`
	Source          string `json:"source"`
	BestContextText string `json:"best_context_text"`

	el *Element
}

// FieldMapping is the mapping from logical field name to element decision.
type FieldMapping map[string]*Mapped

func newMapped(field string, el *Element, score int, source string, req *RequiredInfo) *Mapped {
	return &Mapped{
		Field:           field,
		Selector:        el.Selector,
		Tag:             el.Tag,
		Type:            el.Type,
		Name:            el.Name,
		ID:              el.ID,
		Class:           el.Class,
		Placeholder:     el.Placeholder,
		Required:        req.IsRequired(el),
		Score:           score,
		Source:          source,
		BestContextText: el.BestContextText(),
		el:              el,
	}
}

// MapFields walks the pattern table in priority order and picks at most one
// best element per logical field. Elements already claimed by a higher
// priority field are skipped.
func MapFields(patterns []FieldPattern, b *Buckets, req *RequiredInfo) FieldMapping {
	mapping := make(FieldMapping)
	claimed := make(map[string]bool) // selector -> taken

	essentialsDone := func() bool {
		n := 0
		for _, f := range EssentialFields {
			if mapping[f] != nil {
				n++
			}
		}
		// Unified kana is frequently absent; three of four is full coverage
		// in practice once email/message/name are placed.
		return n >= 3
	}

	for i := range patterns {
		p := &patterns[i]
		pool := rankCandidates(p, b.mappable(p))

		var best *Element
		bestScore := 0
		for _, el := range pool {
			if claimed[el.Selector] {
				continue
			}
			s := fullScore(p, el, req)
			if s <= bestScore && best != nil {
				continue
			}
			if s < thresholdFor(p, mapping, essentialsDone()) {
				continue
			}
			if !passesSafetyGate(p.Field, el) {
				continue
			}
			best, bestScore = el, s
			// Early stop: essential field, dedicated type match plus strict
			// label hit at high confidence.
			if p.Essential && s >= earlyStopScore && typeMatchesStrongly(p, el) && strictLabelMatch(p, el) {
				break
			}
		}
		if best != nil {
			mapping[p.Field] = newMapped(p.Field, best, bestScore, SourceNormal, req)
			claimed[best.Selector] = true
		}
	}

	// TreatAllAsRequired widening: when no required signal exists at all,
	// retry unmapped essential fields at a relaxed threshold. Only the
	// essential list — the flag name is broader than its behavior.
	if req.TreatAllAsRequired {
		for i := range patterns {
			p := &patterns[i]
			if !p.Essential || mapping[p.Field] != nil {
				continue
			}
			for _, el := range rankCandidates(p, b.mappable(p)) {
				if claimed[el.Selector] {
					continue
				}
				s := fullScore(p, el, req)
				if s >= baseThreshold/2 && passesSafetyGate(p.Field, el) {
					mapping[p.Field] = newMapped(p.Field, el, s, SourceFallback, req)
					claimed[el.Selector] = true
					break
				}
			}
		}
	}

	return mapping
}

// thresholdFor computes the dynamic quality threshold for a field given the
// current mapping state: essentials use the base, high-priority optionals
// get a small allowance, other optionals tighten once essentials are placed.
func thresholdFor(p *FieldPattern, mapping FieldMapping, essentialsDone bool) int {
	if p.Threshold > 0 {
		return p.Threshold
	}
	if p.Essential {
		return baseThreshold
	}
	if IsHighPriorityOptional(p.Field) {
		return baseThreshold + highPriorityOptionalBoost
	}
	if essentialsDone {
		return optionalStrictThreshold
	}
	return baseThreshold
}

// passesSafetyGate applies the per-field guards that reject candidates which
// score above threshold but cannot be the field.
func passesSafetyGate(field string, el *Element) bool {
	blob := el.AttrBlob()
	ctx := lower(el.ContextBlob())
	switch field {
	case FieldEmail:
		// Needs type=email or strong email tokens; confirmation inputs are
		// excluded from the primary mapping.
		if containsAnyToken(blob, confirmTokens) {
			return false
		}
		if el.Type == "email" {
			return true
		}
		return containsAnyToken(blob+" "+ctx, []string{"email", "mail", "メール", "e-mail"})
	case FieldPhone, FieldPhone1, FieldPhone2, FieldPhone3:
		if containsAnyToken(blob+" "+ctx, []string{"time", "時間", "時刻", "営業時間"}) {
			return false
		}
		if el.Type == "tel" {
			return true
		}
		return containsAnyToken(blob+" "+ctx, []string{"tel", "phone", "電話", "携帯", "fax"}) &&
			!containsAnyToken(blob, []string{"fax"})
	case FieldPostal, FieldPostal1, FieldPostal2:
		if containsAnyToken(blob, []string{"captcha", "token", "otp"}) || containsAnyToken(blob, confirmTokens) {
			return false
		}
		return containsAnyToken(blob+" "+ctx, []string{"zip", "postal", "postcode", "郵便", "〒", "yubin"})
	case FieldPrefecture:
		if containsAnyToken(blob+" "+ctx, []string{"prefecture", "pref", "都道府県"}) {
			return true
		}
		if el.Tag == "select" {
			return countPrefectureOptions(el) >= 5
		}
		return false
	}
	return true
}

var japanPrefectures = []string{
	"北海道", "青森", "岩手", "宮城", "秋田", "山形", "福島",
	"茨城", "栃木", "群馬", "埼玉", "千葉", "東京", "神奈川",
	"新潟", "富山", "石川", "福井", "山梨", "長野", "岐阜",
	"静岡", "愛知", "三重", "滋賀", "京都", "大阪", "兵庫",
	"奈良", "和歌山", "鳥取", "島根", "岡山", "広島", "山口",
	"徳島", "香川", "愛媛", "高知", "福岡", "佐賀", "長崎",
	"熊本", "大分", "宮崎", "鹿児島", "沖縄",
}

func countPrefectureOptions(el *Element) int {
	n := 0
	for _, opt := range el.Options {
		for _, pref := range japanPrefectures {
			if strings.Contains(opt.Text, pref) {
				n++
				break
			}
		}
	}
	return n
}

// isPrefectureSelect reports a select whose options cover Japan prefectures.
func isPrefectureSelect(el *Element) bool {
	hasTokyo, hasOsaka := false, false
	for _, opt := range el.Options {
		if strings.Contains(opt.Text, "東京都") {
			hasTokyo = true
		}
		if strings.Contains(opt.Text, "大阪府") {
			hasOsaka = true
		}
	}
	return hasTokyo && hasOsaka
}
