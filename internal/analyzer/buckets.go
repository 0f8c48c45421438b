package analyzer

// Buckets holds the snapshot elements classified by kind. Hidden, submit,
// image and plain buttons are excluded from mapping; submit-like elements
// are retained separately for button detection.
type Buckets struct {
	TextInputs   []*Element
	EmailInputs  []*Element
	TelInputs    []*Element
	URLInputs    []*Element
	NumberInputs []*Element
	Textareas    []*Element
	Selects      []*Element
	Radios       []*Element
	Checkboxes   []*Element
	SubmitLike   []*Element
}

// ClassifyElements sorts snapshot elements into buckets. Invisible or
// disabled elements never enter a mapping bucket.
func ClassifyElements(snap *Snapshot) *Buckets {
	b := &Buckets{}
	for _, el := range snap.Elements {
		if isSubmitLike(el) {
			b.SubmitLike = append(b.SubmitLike, el)
			continue
		}
		if !el.Visible || !el.Enabled {
			continue
		}
		switch el.Tag {
		case "textarea":
			b.Textareas = append(b.Textareas, el)
		case "select":
			b.Selects = append(b.Selects, el)
		case "input":
			switch el.Type {
			case "email":
				b.EmailInputs = append(b.EmailInputs, el)
			case "tel":
				b.TelInputs = append(b.TelInputs, el)
			case "url":
				b.URLInputs = append(b.URLInputs, el)
			case "number":
				b.NumberInputs = append(b.NumberInputs, el)
			case "radio":
				b.Radios = append(b.Radios, el)
			case "checkbox":
				b.Checkboxes = append(b.Checkboxes, el)
			case "text", "", "search":
				b.TextInputs = append(b.TextInputs, el)
			// hidden/submit/image/button/file/reset are excluded from mapping
			}
		}
	}
	return b
}

func isSubmitLike(el *Element) bool {
	if el.Tag == "button" {
		return el.Type == "" || el.Type == "submit"
	}
	if el.Tag == "input" && (el.Type == "submit" || el.Type == "image") {
		return true
	}
	return el.Role == "button"
}

// mappable returns the candidate pool for a pattern, filtered by the
// pattern's accepted tags and types. textarea candidates only appear when
// the pattern accepts the textarea tag (message-like fields).
func (b *Buckets) mappable(p *FieldPattern) []*Element {
	var pool []*Element
	for _, tag := range p.Tags {
		switch tag {
		case "textarea":
			pool = append(pool, b.Textareas...)
		case "select":
			pool = append(pool, b.Selects...)
		case "input":
			pool = append(pool, b.TextInputs...)
			pool = append(pool, b.EmailInputs...)
			pool = append(pool, b.TelInputs...)
			pool = append(pool, b.URLInputs...)
			pool = append(pool, b.NumberInputs...)
		}
	}
	var out []*Element
	for _, el := range pool {
		if typeAccepted(p, el) {
			out = append(out, el)
		}
	}
	return out
}

func typeAccepted(p *FieldPattern, el *Element) bool {
	if el.Tag != "input" {
		return true
	}
	for _, t := range p.Types {
		if t == el.Type {
			return true
		}
	}
	return false
}

// AllInputs returns every mapping-eligible input, textarea and select.
func (b *Buckets) AllInputs() []*Element {
	var out []*Element
	out = append(out, b.TextInputs...)
	out = append(out, b.EmailInputs...)
	out = append(out, b.TelInputs...)
	out = append(out, b.URLInputs...)
	out = append(out, b.NumberInputs...)
	out = append(out, b.Textareas...)
	out = append(out, b.Selects...)
	return out
}
