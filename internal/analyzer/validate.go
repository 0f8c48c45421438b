package analyzer

import (
	"fmt"
	"strings"
)

// ValidationResult summarizes the required invariants over the final plan.
type ValidationResult struct {
	Valid             bool     `json:"valid"`
	MissingEssentials []string `json:"missing_essentials,omitempty"`
	DuplicateValues   []string `json:"duplicate_values,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
}

// registryEntry tracks a registered value with its provenance so the
// duplicate check can distinguish a re-registration of the same element from
// a genuine collision.
type registryEntry struct {
	value    string
	score    int
	selector string
}

// DuplicateRegistry tracks (field -> value, score, element identity) and
// rejects two different elements carrying the same non-trivial value.
type DuplicateRegistry struct {
	entries map[string]registryEntry
}

// NewDuplicateRegistry creates an empty registry.
func NewDuplicateRegistry() *DuplicateRegistry {
	return &DuplicateRegistry{entries: make(map[string]registryEntry)}
}

// Register records a field value. It returns an error when another field
// already carries the same value from a different element.
func (r *DuplicateRegistry) Register(field, value, selector string, score int) error {
	if value == "" || value == FullWidthSpace {
		return nil
	}
	for f, e := range r.entries {
		if f == field {
			continue
		}
		if e.value == value && e.selector != selector {
			return fmt.Errorf("value of %q duplicates %q", field, f)
		}
	}
	r.entries[field] = registryEntry{value: value, score: score, selector: selector}
	return nil
}

// Validate checks essential-field presence (unless the form type excuses
// them) and duplicate values, with email-confirmation copies excepted.
func Validate(formType FormType, mapping FieldMapping, auto []*AutoHandled, assignments map[string]*InputAssignment) *ValidationResult {
	res := &ValidationResult{Valid: true}

	if formType == FormTypeContact {
		for _, f := range EssentialFields {
			if f == FieldUnifiedKana {
				// Kana is essential only when the form asks for it.
				continue
			}
			if mapping[f] != nil {
				continue
			}
			// Split pairs cover the unified slot.
			if f == FieldUnifiedName && mapping[FieldSei] != nil && mapping[FieldMei] != nil {
				continue
			}
			if covered := autoCovers(auto, f); covered {
				continue
			}
			res.MissingEssentials = append(res.MissingEssentials, f)
		}
	}

	copyTargets := make(map[string]bool)
	for _, h := range auto {
		if h.AutoAction == AutoActionCopyFrom {
			copyTargets[h.Field] = true
		}
	}

	reg := NewDuplicateRegistry()
	for field, a := range assignments {
		if copyTargets[field] {
			continue
		}
		if err := reg.Register(field, a.Value, a.Selector, 0); err != nil {
			res.DuplicateValues = append(res.DuplicateValues, field)
		}
	}

	if len(res.MissingEssentials) > 0 || len(res.DuplicateValues) > 0 {
		res.Valid = false
	}
	if mapping[FieldMessage] != nil && mapping[FieldMessage].Tag != "textarea" {
		res.Warnings = append(res.Warnings, "message mapped to non-textarea input")
	}
	for field := range assignments {
		if strings.HasPrefix(field, "auto_required_text_") {
			res.Warnings = append(res.Warnings, field+" filled with placeholder")
		}
	}
	return res
}

func autoCovers(auto []*AutoHandled, field string) bool {
	for _, h := range auto {
		if h.Field == field {
			return true
		}
	}
	return false
}
