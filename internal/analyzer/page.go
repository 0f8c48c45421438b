package analyzer

import "context"

// Page is the live DOM handle the analyzer works against. The chromedp
// implementation lives in internal/browser; tests use a goquery-backed fake.
// The analyzer performs no network I/O beyond the page it is given.
type Page interface {
	// Evaluate runs a JavaScript expression in the page and unmarshals the
	// JSON result into out.
	Evaluate(ctx context.Context, js string, out any) error
	// Content returns the full HTML content of the page.
	Content(ctx context.Context) (string, error)
	// ScrollBy scrolls the viewport vertically by the given pixel delta.
	ScrollBy(ctx context.Context, deltaY int) error
}

// Rect is an element bounding box in page coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Option is one <option> of a <select>.
type Option struct {
	Index    int    `json:"index"`
	Value    string `json:"value"`
	Text     string `json:"text"`
	Selected bool   `json:"selected"`
}

// Element is the attribute-cache entry for one form-relevant DOM element.
// All reads happen once, in the snapshot phase; everything downstream is
// pure computation over these descriptors.
type Element struct {
	Selector       string   `json:"selector"`
	Tag            string   `json:"tag"`
	Type           string   `json:"type"`
	Name           string   `json:"name"`
	ID             string   `json:"id"`
	Class          string   `json:"class"`
	Placeholder    string   `json:"placeholder"`
	Value          string   `json:"value"`
	RequiredAttr   bool     `json:"required_attr"`
	AriaRequired   bool     `json:"aria_required"`
	Visible        bool     `json:"visible"`
	Enabled        bool     `json:"enabled"`
	Checked        bool     `json:"checked"`
	MaxLength      int      `json:"max_length"`
	Options        []Option `json:"options,omitempty"`
	BBox           Rect     `json:"bbox"`
	LabelText      string   `json:"label_text"`      // label[for] or wrapping <label>
	ThText         string   `json:"th_text"`         // preceding <th>/<dt>
	AriaLabelText  string   `json:"aria_label_text"` // aria-labelledby / aria-label
	ParentClass    string   `json:"parent_class"`
	ParentText     string   `json:"parent_text"`     // nearby ancestor text, clipped
	SiblingText    string   `json:"sibling_text"`    // preceding-sibling text, clipped
	GroupText      string   `json:"group_text"`      // radio/checkbox group container text
	FormIndex      int      `json:"form_index"`      // -1 when outside any form
	DOMIndex       int      `json:"dom_index"`
	ButtonText     string   `json:"button_text,omitempty"`
	Role           string   `json:"role,omitempty"`
}

// Required reports whether the element itself declares requiredness.
func (e *Element) Required() bool {
	return e.RequiredAttr || e.AriaRequired
}

// AttrBlob returns the lowercased concatenation of the identity attributes,
// used for token scanning.
func (e *Element) AttrBlob() string {
	return lower(e.Name + " " + e.ID + " " + e.Class)
}

// ContextBlob returns the concatenation of all associated text signals.
func (e *Element) ContextBlob() string {
	return e.LabelText + " " + e.ThText + " " + e.AriaLabelText + " " +
		e.Placeholder + " " + e.ParentText + " " + e.SiblingText
}

// BestContextText picks the highest-confidence context text for reporting.
// Order mirrors the confidence of each association source.
func (e *Element) BestContextText() string {
	for _, t := range []string{e.LabelText, e.ThText, e.AriaLabelText, e.Placeholder, e.SiblingText, e.ParentText} {
		if t != "" {
			return clip(t, 100)
		}
	}
	return ""
}

// FormInfo describes one <form> found in the snapshot.
type FormInfo struct {
	Index    int    `json:"index"`
	Selector string `json:"selector"`
	Action   string `json:"action"`
	Method   string `json:"method"`
	BBox     Rect   `json:"bbox"`
}

// Snapshot is the one-shot structural capture of the page the whole pipeline
// operates on. Discarding the snapshot discards every cache entry.
type Snapshot struct {
	Elements    []*Element `json:"elements"`
	Forms       []FormInfo `json:"forms"`
	HiddenHints []*Element `json:"hidden_hints"` // hidden inputs whose value may encode validation hints
	BodyText    string     `json:"body_text"`
}
