package analyzer

import (
	"regexp"
	"sort"
)

var submitTextPattern = regexp.MustCompile(`送信|問い合わせ|送る|submit|send|確認`)

// SubmitButton is one ordered submit candidate.
type SubmitButton struct {
	Selector string `json:"selector"`
	Tag      string `json:"tag"`
	Type     string `json:"type"`
	Text     string `json:"text"`
	Score    int    `json:"score"`
}

// DetectSubmitButtons collects submit candidates bounded to the form that
// owns the mapped fields. Header and global search buttons never qualify:
// anything outside the form's bounding box is rejected.
func DetectSubmitButtons(snap *Snapshot, b *Buckets, mapping FieldMapping) []*SubmitButton {
	formIdx := dominantFormIndex(mapping)
	var box *Rect
	if formIdx >= 0 && formIdx < len(snap.Forms) {
		box = &snap.Forms[formIdx].BBox
	}

	var out []*SubmitButton
	for _, el := range b.SubmitLike {
		if formIdx >= 0 && el.FormIndex != formIdx {
			// Role-button elements may sit just outside the <form> tag but
			// inside its visual box.
			if box == nil || !insideBox(el, box) {
				continue
			}
		}
		text := el.ButtonText
		if text == "" {
			text = el.Value
		}
		score := 0
		switch {
		case el.Tag == "button" && (el.Type == "submit" || el.Type == ""):
			score = 80
		case el.Tag == "input" && el.Type == "submit":
			score = 80
		case el.Tag == "input" && el.Type == "image":
			score = 60
		case el.Role == "button":
			if !submitTextPattern.MatchString(text) {
				continue
			}
			score = 50
		default:
			continue
		}
		if submitTextPattern.MatchString(text) {
			score += 20
		}
		if containsAnyToken(lower(text)+" "+el.AttrBlob(), []string{"search", "検索", "login", "ログイン"}) {
			continue
		}
		out = append(out, &SubmitButton{
			Selector: el.Selector, Tag: el.Tag, Type: el.Type, Text: text, Score: score,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// dominantFormIndex returns the form index the majority of mapped elements
// belong to, or -1 when no mapped element sits in a form.
func dominantFormIndex(mapping FieldMapping) int {
	counts := make(map[int]int)
	for _, m := range mapping {
		if m.el != nil && m.el.FormIndex >= 0 {
			counts[m.el.FormIndex]++
		}
	}
	best, bestN := -1, 0
	for idx, n := range counts {
		if n > bestN {
			best, bestN = idx, n
		}
	}
	return best
}

func insideBox(el *Element, box *Rect) bool {
	cx := el.BBox.X + el.BBox.Width/2
	cy := el.BBox.Y + el.BBox.Height/2
	return cx >= box.X && cx <= box.X+box.Width && cy >= box.Y && cy <= box.Y+box.Height
}
