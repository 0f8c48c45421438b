package analyzer

import (
	"sort"
	"strings"

	"github.com/mitto-dev/mitto/internal/models"
)

// Auto actions planned for elements outside the primary field mapping.
const (
	AutoActionCheck       = "check"
	AutoActionSelect      = "select"
	AutoActionSelectIndex = "select_index"
	AutoActionFill        = "fill"
	AutoActionCopyFrom    = "copy_from"
)

// AutoHandled is one synthesized decision for a checkbox group, radio group,
// select, email-confirmation input or unified-name fallback.
type AutoHandled struct {
	Field           string `json:"field"`
	Selector        string `json:"selector"`
	Tag             string `json:"tag"`
	Type            string `json:"type"`
	Name            string `json:"name"`
	AutoAction      string `json:"auto_action"`
	Value           string `json:"value,omitempty"`
	SelectIndex     int    `json:"select_index,omitempty"`
	CopyFromField   string `json:"copy_from_field,omitempty"`
	Required        bool   `json:"required"`
	BestContextText string `json:"best_context_text"`

	el *Element
}

var emailConfirmTokens = []string{
	"email_confirm", "mail_confirm", "mail2", "email2", "re_email", "re_mail",
	"email-confirm", "confirm-email", "確認用メール",
}

var privacyTermsTokens = []string{"privacy", "個人情報", "プライバシー", "terms", "利用規約", "規約"}
var agreeTokens = []string{"同意", "agree", "承諾", "確認しました"}

// Priority keywords for opting out of sales contact where choices exist.
var optOutTriggerTokens = []string{"営業", "提案", "メール"}
var optOutChoiceTokens = []string{"その他", "other", "該当なし"}

var genderGroupTokens = []string{"性別", "gender", "sex"}

var dummyOptionTokens = []string{"選択", "choose", "select", "--"}

// HandleUnmapped plans auto actions for every checkbox group, radio group
// and select that the primary mapping did not claim, plus email-confirmation
// inputs and the unified-name fallback search.
func HandleUnmapped(mapping FieldMapping, b *Buckets, req *RequiredInfo, client *models.ClientConfig) []*AutoHandled {
	claimed := make(map[string]bool)
	for _, m := range mapping {
		claimed[m.Selector] = true
	}

	var out []*AutoHandled
	out = append(out, handleCheckboxes(b, req, claimed)...)
	out = append(out, handleRadios(b, req, claimed, client)...)
	out = append(out, handleSelects(b, req, claimed, client)...)
	out = append(out, handleEmailConfirm(mapping, b, claimed)...)
	out = append(out, handleUnifiedFallbacks(mapping, b, claimed, client)...)
	return out
}

func groupByName(els []*Element) map[string][]*Element {
	groups := make(map[string][]*Element)
	for _, el := range els {
		key := el.Name
		if key == "" {
			key = el.Selector
		}
		groups[key] = append(groups[key], el)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool { return g[i].DOMIndex < g[j].DOMIndex })
	}
	return groups
}

func anyRequired(g []*Element, req *RequiredInfo) bool {
	for _, el := range g {
		if req.IsRequired(el) {
			return true
		}
	}
	return false
}

// memberText is the choice label of one group member.
func memberText(el *Element) string {
	if el.LabelText != "" {
		return el.LabelText
	}
	if el.SiblingText != "" {
		return el.SiblingText
	}
	return el.Value
}

// pickByPriorityKeywords chooses a member by the opt-out rule: when the
// group offers sales/proposal/mail choices, prefer the neutral one.
func pickByPriorityKeywords(g []*Element) *Element {
	groupBlob := ""
	for _, el := range g {
		groupBlob += memberText(el) + " "
	}
	if containsAnyToken(groupBlob, optOutTriggerTokens) {
		for _, el := range g {
			if containsAnyToken(memberText(el), optOutChoiceTokens) {
				return el
			}
		}
	}
	return nil
}

func handleCheckboxes(b *Buckets, req *RequiredInfo, claimed map[string]bool) []*AutoHandled {
	var out []*AutoHandled
	for _, g := range groupByName(b.Checkboxes) {
		if claimed[g[0].Selector] {
			continue
		}
		groupCtx := g[0].GroupText + " " + g[0].ContextBlob()
		consent := containsAnyToken(groupCtx, privacyTermsTokens) && containsAnyToken(groupCtx, agreeTokens)
		if !anyRequired(g, req) && !consent {
			continue
		}

		pick := pickByPriorityKeywords(g)
		if pick == nil && consent {
			for _, el := range g {
				if containsAnyToken(memberText(el), agreeTokens) {
					pick = el
					break
				}
			}
		}
		if pick == nil {
			pick = g[0]
		}
		out = append(out, &AutoHandled{
			Field: "checkbox_" + pick.Name, Selector: pick.Selector, Tag: pick.Tag,
			Type: pick.Type, Name: pick.Name, AutoAction: AutoActionCheck,
			Required: anyRequired(g, req), BestContextText: pick.BestContextText(), el: pick,
		})
	}
	return out
}

func handleRadios(b *Buckets, req *RequiredInfo, claimed map[string]bool, client *models.ClientConfig) []*AutoHandled {
	var out []*AutoHandled
	for name, g := range groupByName(b.Radios) {
		if claimed[g[0].Selector] {
			continue
		}
		// Required member or a required marker on the group container.
		if !anyRequired(g, req) && !groupMarked(g[0].GroupText) {
			continue
		}

		var pick *Element
		if containsAnyToken(lower(name)+" "+g[0].GroupText, genderGroupTokens) && client != nil {
			pick = pickGenderMember(g, client.Client.Gender)
		}
		if pick == nil {
			pick = pickByPriorityKeywords(g)
		}
		if pick == nil {
			pick = g[0]
		}
		out = append(out, &AutoHandled{
			Field: "radio_" + name, Selector: pick.Selector, Tag: pick.Tag,
			Type: pick.Type, Name: pick.Name, AutoAction: AutoActionCheck,
			Required: true, BestContextText: pick.BestContextText(), el: pick,
		})
	}
	return out
}

func pickGenderMember(g []*Element, gender string) *Element {
	want := genderChoiceTokens(gender)
	for _, el := range g {
		if containsAnyToken(memberText(el)+" "+el.Value, want) {
			return el
		}
	}
	return nil
}

func genderChoiceTokens(gender string) []string {
	switch strings.ToLower(gender) {
	case "male":
		return []string{"男性", "男", "male"}
	case "female":
		return []string{"女性", "女", "female"}
	default:
		return []string{"その他", "回答しない", "other"}
	}
}

func handleSelects(b *Buckets, req *RequiredInfo, claimed map[string]bool, client *models.ClientConfig) []*AutoHandled {
	var out []*AutoHandled
	for _, el := range b.Selects {
		if claimed[el.Selector] || !req.IsRequired(el) {
			continue
		}
		h := &AutoHandled{
			Field: "select_" + el.Name, Selector: el.Selector, Tag: el.Tag,
			Type: "select", Name: el.Name, Required: true,
			BestContextText: el.BestContextText(), el: el,
		}
		switch {
		case isPrefectureSelect(el) && client != nil:
			if idx := matchOptionText(el, client.Client.Address1); idx >= 0 {
				h.AutoAction, h.SelectIndex, h.Value = AutoActionSelectIndex, idx, el.Options[idx].Value
				out = append(out, h)
				continue
			}
		case isGenderSelect(el) && client != nil:
			want := genderChoiceTokens(client.Client.Gender)
			if idx := matchOptionTokens(el, want); idx >= 0 {
				h.AutoAction, h.SelectIndex, h.Value = AutoActionSelectIndex, idx, el.Options[idx].Value
				out = append(out, h)
				continue
			}
		}

		// Keep the existing default unless it is a dummy placeholder.
		defIdx := selectedIndex(el)
		if defIdx >= 0 && !isDummyOption(el.Options[defIdx]) {
			h.AutoAction, h.SelectIndex, h.Value = AutoActionSelectIndex, defIdx, el.Options[defIdx].Value
			out = append(out, h)
			continue
		}
		if idx := matchOptionTokens(el, optOutChoiceTokens); idx >= 0 {
			h.AutoAction, h.SelectIndex, h.Value = AutoActionSelectIndex, idx, el.Options[idx].Value
			out = append(out, h)
			continue
		}
		// Last non-dummy option as the least-committal fallback.
		for i := len(el.Options) - 1; i >= 0; i-- {
			if !isDummyOption(el.Options[i]) {
				h.AutoAction, h.SelectIndex, h.Value = AutoActionSelectIndex, i, el.Options[i].Value
				out = append(out, h)
				break
			}
		}
	}
	return out
}

func isGenderSelect(el *Element) bool {
	return containsAnyToken(el.AttrBlob()+" "+lower(el.ContextBlob()), genderGroupTokens)
}

func selectedIndex(el *Element) int {
	for _, opt := range el.Options {
		if opt.Selected {
			return opt.Index
		}
	}
	return -1
}

func isDummyOption(opt Option) bool {
	t := strings.TrimSpace(opt.Text)
	if t == "" || strings.TrimSpace(opt.Value) == "" {
		return true
	}
	tl := lower(t)
	for _, d := range dummyOptionTokens {
		if strings.Contains(tl, lower(d)) || strings.Contains(t, d) {
			return true
		}
	}
	return false
}

func matchOptionText(el *Element, text string) int {
	if text == "" {
		return -1
	}
	for _, opt := range el.Options {
		if strings.Contains(opt.Text, text) || strings.Contains(text, strings.TrimSpace(opt.Text)) && strings.TrimSpace(opt.Text) != "" {
			return opt.Index
		}
	}
	return -1
}

func matchOptionTokens(el *Element, tokens []string) int {
	for _, opt := range el.Options {
		if containsAnyToken(opt.Text, tokens) {
			return opt.Index
		}
	}
	return -1
}

// handleEmailConfirm detects confirmation inputs by the token set and plans
// a copy from the mapped primary email.
func handleEmailConfirm(mapping FieldMapping, b *Buckets, claimed map[string]bool) []*AutoHandled {
	if mapping[FieldEmail] == nil {
		return nil
	}
	var out []*AutoHandled
	pool := append(append([]*Element{}, b.EmailInputs...), b.TextInputs...)
	for _, el := range pool {
		if claimed[el.Selector] {
			continue
		}
		blob := el.AttrBlob() + " " + el.ContextBlob()
		if !containsAnyToken(blob, emailConfirmTokens) {
			continue
		}
		out = append(out, &AutoHandled{
			Field: "confirm_" + el.Name, Selector: el.Selector, Tag: el.Tag,
			Type: el.Type, Name: el.Name, AutoAction: AutoActionCopyFrom,
			CopyFromField: FieldEmail, Required: el.Required(),
			BestContextText: el.BestContextText(), el: el,
		})
		claimed[el.Selector] = true
	}
	return out
}

var unifiedNamePatterns = []string{"お名前", "氏名", "ご担当者", "name"}
var unifiedKanaPatterns = []string{"フリガナ", "ふりがな", "kana", "furigana"}

// handleUnifiedFallbacks searches for a single unified full-name or kana
// input when no split pair and no primary mapping exists, and plans a fill
// with the combined client value.
func handleUnifiedFallbacks(mapping FieldMapping, b *Buckets, claimed map[string]bool, client *models.ClientConfig) []*AutoHandled {
	if client == nil {
		return nil
	}
	var out []*AutoHandled
	if mapping[FieldUnifiedName] == nil && mapping[FieldSei] == nil {
		if el := findByContext(b.TextInputs, claimed, unifiedNamePatterns); el != nil {
			out = append(out, &AutoHandled{
				Field: FieldUnifiedName, Selector: el.Selector, Tag: el.Tag, Type: el.Type,
				Name: el.Name, AutoAction: AutoActionFill, Value: client.Client.FullName(),
				Required: el.Required(), BestContextText: el.BestContextText(), el: el,
			})
			claimed[el.Selector] = true
		}
	}
	if mapping[FieldUnifiedKana] == nil && mapping[FieldSeiKana] == nil {
		if el := findByContext(b.TextInputs, claimed, unifiedKanaPatterns); el != nil {
			out = append(out, &AutoHandled{
				Field: FieldUnifiedKana, Selector: el.Selector, Tag: el.Tag, Type: el.Type,
				Name: el.Name, AutoAction: AutoActionFill, Value: client.Client.FullNameKana(),
				Required: el.Required(), BestContextText: el.BestContextText(), el: el,
			})
			claimed[el.Selector] = true
		}
	}
	return out
}

func findByContext(pool []*Element, claimed map[string]bool, tokens []string) *Element {
	for _, el := range pool {
		if claimed[el.Selector] {
			continue
		}
		if containsAnyToken(el.LabelText+" "+el.Placeholder+" "+el.ThText, tokens) {
			return el
		}
	}
	return nil
}
