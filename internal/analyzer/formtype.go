package analyzer

// FormType classifies what kind of form the page presents. Only contact-like
// forms proceed to field mapping.
type FormType string

const (
	FormTypeContact    FormType = "contact"
	FormTypeSearch     FormType = "search"
	FormTypeLogin      FormType = "login"
	FormTypeNewsletter FormType = "newsletter"
	FormTypeFeedback   FormType = "feedback"
	FormTypeOrder      FormType = "order"
	FormTypeAuth       FormType = "auth"
	FormTypeOther      FormType = "other"
)

// ShortCircuits reports whether this form type ends the pipeline with an
// explicit non-goal result instead of mapping fields.
func (t FormType) ShortCircuits() bool {
	switch t {
	case FormTypeSearch, FormTypeLogin, FormTypeAuth, FormTypeOrder, FormTypeNewsletter:
		return true
	}
	return false
}

// DetectFormType inspects the classified buckets and page text to decide the
// form's purpose. Signals are counted rather than short-circuited so that a
// contact form with a header search box is not misclassified.
func DetectFormType(snap *Snapshot, b *Buckets) FormType {
	var (
		passwordCount int
		searchSignals int
		orderSignals  int
		newsSignals   int
		contactSignal int
	)

	for _, el := range snap.Elements {
		if el.Tag == "input" && el.Type == "password" {
			passwordCount++
		}
	}

	for _, el := range b.AllInputs() {
		blob := el.AttrBlob() + " " + lower(el.ContextBlob())
		if containsAnyToken(blob, []string{"search", "keyword", "検索", "query"}) {
			searchSignals++
		}
		if containsAnyToken(blob, []string{"cart", "order", "購入", "注文", "数量", "quantity", "payment", "決済"}) {
			orderSignals++
		}
		if containsAnyToken(blob, []string{"newsletter", "メルマガ", "購読", "subscribe"}) {
			newsSignals++
		}
		if containsAnyToken(blob, []string{"inquiry", "contact", "問い合わせ", "お問合せ", "相談", "message", "本文"}) {
			contactSignal++
		}
	}

	bodyLower := lower(snap.BodyText)
	if containsAnyToken(bodyLower, []string{"お問い合わせ", "お問合せ", "contact", "inquiry", "ご相談"}) {
		contactSignal++
	}

	hasTextarea := len(b.Textareas) > 0

	switch {
	case passwordCount >= 2:
		return FormTypeAuth
	case passwordCount == 1 && contactSignal == 0:
		return FormTypeLogin
	case orderSignals >= 2 && contactSignal == 0:
		return FormTypeOrder
	case newsSignals > 0 && !hasTextarea && contactSignal == 0:
		return FormTypeNewsletter
	case searchSignals > 0 && len(b.AllInputs()) <= 2 && !hasTextarea:
		return FormTypeSearch
	case contactSignal > 0 || hasTextarea:
		if contactSignal == 0 && hasTextarea {
			return FormTypeFeedback
		}
		return FormTypeContact
	default:
		return FormTypeOther
	}
}
