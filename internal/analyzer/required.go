package analyzer

import (
	"strings"
)

// Class markers that encode requiredness without the required attribute.
var requiredClassMarkers = []string{"required", "must", "wpcf7-validates-as-required", "fldrequired"}

// Text markers adjacent to an input that declare it required. ※ is weaker:
// it only counts inside short adjacent text, like the rest, but carries no
// standalone meaning elsewhere.
var requiredTextMarkers = []string{"必須", "Required", "Mandatory", "*", "＊"}

const requiredMarkerMaxLen = 10

// RequiredInfo is the per-snapshot required-field analysis.
type RequiredInfo struct {
	required map[string]bool // selector -> required
	// TreatAllAsRequired widens mapping for the fixed essential-field list
	// only (not arbitrary fields) when the page has candidate inputs but no
	// required signal at all.
	TreatAllAsRequired bool
}

// IsRequired reports whether the element was flagged required by any signal.
func (r *RequiredInfo) IsRequired(el *Element) bool {
	if el.Required() {
		return true
	}
	return r.required[el.Selector]
}

// AnalyzeRequired applies the required-field detection rules over the
// snapshot: the required/aria-required attributes, class markers, short
// adjacent marker text, radio-group container markers and hidden
// validation-hint inputs.
func AnalyzeRequired(snap *Snapshot, b *Buckets) *RequiredInfo {
	info := &RequiredInfo{required: make(map[string]bool)}

	anySignal := false
	for _, el := range snap.Elements {
		if el.Required() {
			anySignal = true
			info.required[el.Selector] = true
			continue
		}
		if classMarked(el.Class) || classMarked(el.ParentClass) {
			anySignal = true
			info.required[el.Selector] = true
			continue
		}
		if markerInShortText(el.LabelText) || markerInShortText(el.ThText) ||
			markerInShortText(el.SiblingText) || kometenInShortText(el.LabelText) ||
			kometenInShortText(el.SiblingText) {
			anySignal = true
			info.required[el.Selector] = true
			continue
		}
		// Radio groups: a marker on the group container (bounded search done
		// at snapshot time) flags every member.
		if el.Type == "radio" && groupMarked(el.GroupText) {
			anySignal = true
			info.required[el.Selector] = true
			continue
		}
	}

	// Hidden validation-hint inputs: value starts with a visible input's name.
	for _, hint := range snap.HiddenHints {
		if hint.Value == "" {
			continue
		}
		for _, el := range b.AllInputs() {
			if el.Name != "" && strings.HasPrefix(hint.Value, el.Name) {
				anySignal = true
				info.required[el.Selector] = true
			}
		}
	}

	if !anySignal && len(b.AllInputs()) > 0 {
		info.TreatAllAsRequired = true
	}
	return info
}

func classMarked(class string) bool {
	cl := lower(class)
	for _, m := range requiredClassMarkers {
		if ContainsTokenWithBoundary(cl, m) {
			return true
		}
	}
	return false
}

// markerInShortText checks 必須/Required/Mandatory/*/＊ inside adjacent text
// no longer than 10 chars. Longer text is prose, not a marker.
func markerInShortText(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" || len([]rune(t)) > requiredMarkerMaxLen {
		return false
	}
	for _, m := range requiredTextMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}

// kometenInShortText checks the ※ marker, which only counts in short text.
func kometenInShortText(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" || len([]rune(t)) > requiredMarkerMaxLen {
		return false
	}
	return strings.Contains(t, "※")
}

func groupMarked(groupText string) bool {
	t := strings.TrimSpace(groupText)
	if t == "" {
		return false
	}
	// The group container carries prose; scan only the head.
	head := clip(t, 40)
	for _, m := range []string{"必須", "Required", "required", "＊", "*"} {
		if strings.Contains(head, m) {
			return true
		}
	}
	return false
}
