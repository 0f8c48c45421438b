package analyzer

import (
	"strings"

	"github.com/mitto-dev/mitto/internal/models"
)

// FullWidthSpace is the safe default value for rescued text inputs that map
// to no logical field.
const FullWidthSpace = "　"

// InputAssignment is one flat field -> value plan ready for execution.
type InputAssignment struct {
	Selector   string `json:"selector"`
	InputType  string `json:"input_type"`
	Value      string `json:"value"`
	Required   bool   `json:"required"`
	AutoAction string `json:"auto_action,omitempty"`
	SelectIndex int   `json:"select_index,omitempty"`
}

// AssignValues materializes input_assignments for mapped and auto-handled
// elements, then corrects sei/mei cross-wiring and enforces canonical name
// values from client data.
func AssignValues(mapping FieldMapping, auto []*AutoHandled, client *models.ClientConfig) map[string]*InputAssignment {
	out := make(map[string]*InputAssignment)
	if client == nil {
		return out
	}

	for field, m := range mapping {
		value := valueForField(field, client)
		if value == "" && strings.HasPrefix(field, "auto_required_text_") {
			value = FullWidthSpace
		}
		if value == "" {
			continue
		}
		out[field] = &InputAssignment{
			Selector:  m.Selector,
			InputType: inputTypeOf(m.Tag, m.Type),
			Value:     value,
			Required:  m.Required,
		}
	}

	for _, h := range auto {
		a := &InputAssignment{
			Selector:    h.Selector,
			InputType:   inputTypeOf(h.Tag, h.Type),
			Value:       h.Value,
			Required:    h.Required,
			AutoAction:  h.AutoAction,
			SelectIndex: h.SelectIndex,
		}
		if h.AutoAction == AutoActionCopyFrom {
			if src, ok := out[h.CopyFromField]; ok {
				a.Value = src.Value
			}
		}
		out[h.Field] = a
	}

	correctSeiMeiCrossWiring(mapping, out)
	enforceCanonicalNames(mapping, out, client)
	return out
}

func inputTypeOf(tag, typ string) string {
	if tag == "input" {
		if typ == "" {
			return "text"
		}
		return typ
	}
	return tag
}

// valueForField is the field -> client-value combiner table. Split fields
// use the pre-split client parts; unified fields use the joined values.
func valueForField(field string, c *models.ClientConfig) string {
	p := &c.Client
	switch field {
	case FieldEmail:
		return p.Email
	case FieldMessage:
		return c.Targeting.Message
	case FieldSubject:
		if c.Targeting.Subject != "" {
			return c.Targeting.Subject
		}
		return "お問い合わせ"
	case FieldUnifiedName:
		return p.FullName()
	case FieldUnifiedKana:
		return p.FullNameKana()
	case FieldSei:
		return p.LastName
	case FieldMei:
		return p.FirstName
	case FieldSeiKana:
		return p.LastNameKana
	case FieldMeiKana:
		return p.FirstNameKana
	case FieldSeiHira:
		return p.LastNameHira
	case FieldMeiHira:
		return p.FirstNameHira
	case FieldPhone:
		return p.FullPhone()
	case FieldPhone1:
		return p.Phone1
	case FieldPhone2:
		return p.Phone2
	case FieldPhone3:
		return p.Phone3
	case FieldPostal:
		return p.FullPostal()
	case FieldPostal1:
		return p.PostalCode1
	case FieldPostal2:
		return p.PostalCode2
	case FieldPrefecture:
		return p.Address1
	case FieldAddress:
		return p.FullAddress()
	case FieldCompany:
		return p.CompanyName
	case FieldDepartment:
		return p.Department
	case FieldPosition:
		return p.Position
	case FieldURL:
		return p.URL
	}
	if strings.HasPrefix(field, "住所_補助") {
		// Auxiliary address slots get the building part, or a full-width
		// space when the client has none.
		if p.Address4 != "" {
			return p.Address4
		}
		return FullWidthSpace
	}
	return ""
}

var meiSelectorTokens = []string{"mei", "first", "given"}
var seiSelectorTokens = []string{"sei", "last", "family"}

// correctSeiMeiCrossWiring rebinds 姓/名 to each other's elements when the
// selectors say the mapping landed on the opposite inputs. Canonical value
// enforcement runs after this, so the fix must swap bindings, not values.
func correctSeiMeiCrossWiring(mapping FieldMapping, out map[string]*InputAssignment) {
	sei, mei := mapping[FieldSei], mapping[FieldMei]
	aSei, aMei := out[FieldSei], out[FieldMei]
	if sei == nil || mei == nil || aSei == nil || aMei == nil {
		return
	}
	seiBlob := lower(sei.Selector + " " + sei.Name + " " + sei.ID)
	meiBlob := lower(mei.Selector + " " + mei.Name + " " + mei.ID)
	if containsAnyToken(seiBlob, meiSelectorTokens) && containsAnyToken(meiBlob, seiSelectorTokens) {
		sei.el, mei.el = mei.el, sei.el
		sei.Selector, mei.Selector = mei.Selector, sei.Selector
		sei.Name, mei.Name = mei.Name, sei.Name
		sei.ID, mei.ID = mei.ID, sei.ID
		aSei.Selector, aMei.Selector = aMei.Selector, aSei.Selector
		aSei.InputType, aMei.InputType = aMei.InputType, aSei.InputType
	}
}

// enforceCanonicalNames overwrites the four name slots with the canonical
// client values regardless of prior value generation.
func enforceCanonicalNames(mapping FieldMapping, out map[string]*InputAssignment, c *models.ClientConfig) {
	canonical := map[string]string{
		FieldSei:     c.Client.LastName,
		FieldMei:     c.Client.FirstName,
		FieldSeiKana: c.Client.LastNameKana,
		FieldMeiKana: c.Client.FirstNameKana,
	}
	for field, v := range canonical {
		if a, ok := out[field]; ok && v != "" {
			a.Value = v
		}
	}
}
