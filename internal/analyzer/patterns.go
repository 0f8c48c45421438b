package analyzer

// Logical field names. The mapper is table-driven over these; essential
// fields get wider candidate scans and early-stop treatment.
const (
	FieldEmail       = "メールアドレス"
	FieldMessage     = "お問い合わせ本文"
	FieldUnifiedName = "統合氏名"
	FieldUnifiedKana = "統合氏名カナ"
	FieldSei         = "姓"
	FieldMei         = "名"
	FieldSeiKana     = "姓カナ"
	FieldMeiKana     = "名カナ"
	FieldSeiHira     = "姓ひらがな"
	FieldMeiHira     = "名ひらがな"
	FieldPhone       = "電話番号"
	FieldPhone1      = "電話番号1"
	FieldPhone2      = "電話番号2"
	FieldPhone3      = "電話番号3"
	FieldPostal      = "郵便番号"
	FieldPostal1     = "郵便番号1"
	FieldPostal2     = "郵便番号2"
	FieldAddress     = "住所"
	FieldPrefecture  = "都道府県"
	FieldCompany     = "会社名"
	FieldDepartment  = "部署名"
	FieldPosition    = "役職"
	FieldSubject     = "件名"
	FieldURL         = "ウェブサイト"
)

// EssentialFields must be mapped for a contact form to be submittable
// (unless the form type excuses them). TreatAllAsRequired widens mapping
// for exactly this list, never arbitrary fields.
var EssentialFields = []string{FieldEmail, FieldMessage, FieldUnifiedName, FieldUnifiedKana}

// HighPriorityOptionalFields get a small threshold allowance.
var HighPriorityOptionalFields = []string{FieldSubject, FieldPhone, FieldAddress}

// Mapping sources.
const (
	SourceNormal         = "normal"
	SourceFallback       = "fallback"
	SourcePromoted       = "promoted"
	SourceRequiredRescue = "required_rescue"
	SourcePromoteSplit   = "promote_split"
)

// Quick-rank candidate caps.
const (
	quickRankTopK          = 15
	quickRankTopKEssential = 25
)

// Scoring constants.
const (
	baseThreshold              = 70
	optionalStrictThreshold    = 85
	highPriorityOptionalBoost  = 10
	earlyStopScore             = 95
	requiredBoostDefault       = 40
	requiredBoostPhone         = 200
)

// FieldPattern is the tagged pattern descriptor for one logical field.
type FieldPattern struct {
	Field     string
	Weight    int // mapping priority, higher first
	Tags      []string
	Types     []string
	Strict    []string // strong attribute/label tokens
	Weak      []string
	Exclude   []string // disqualifying tokens in attrs
	Context   []string // label/context tokens
	Threshold int      // 0 means dynamic default
	Essential bool
	RequiredBoost int // 0 means default
}

// IsEssential reports whether field is one of the essential fields.
func IsEssential(field string) bool {
	for _, f := range EssentialFields {
		if f == field {
			return true
		}
	}
	return false
}

// IsHighPriorityOptional reports whether field gets the threshold allowance.
func IsHighPriorityOptional(field string) bool {
	for _, f := range HighPriorityOptionalFields {
		if f == field {
			return true
		}
	}
	return false
}

var confirmTokens = []string{"confirm", "confirmation", "再入力", "確認", "retype", "re-enter"}

var searchLoginTokens = []string{"search", "login", "signin", "password", "keyword", "検索", "ログイン"}

// fieldPatterns is ordered by Weight descending at load time; the mapping
// loop walks it in that order and picks at most one element per field.
// Thresholds here are the empirically tuned defaults; config overrides may
// raise or lower them but the defaults are never dropped.
var fieldPatterns = []FieldPattern{
	{
		Field: FieldEmail, Weight: 100, Essential: true,
		Tags:  []string{"input"},
		Types: []string{"email", "text", ""},
		Strict: []string{"email", "mail", "メール", "e-mail", "eメール"},
		Weak:   []string{"addr", "contact"},
		Exclude: append([]string{"tel", "phone", "fax", "postal", "zip"}, confirmTokens...),
		Context: []string{"メールアドレス", "メール", "email", "e-mail"},
	},
	{
		Field: FieldMessage, Weight: 95, Essential: true,
		Tags:  []string{"textarea", "input"},
		Types: []string{"", "text", "textarea"},
		Strict: []string{"message", "inquiry", "content", "body", "本文", "お問い合わせ", "問い合わせ", "comment", "詳細", "ご相談", "ご質問", "ご用件"},
		Weak:   []string{"text", "detail", "naiyou", "内容"},
		Exclude: []string{"subject", "title", "件名", "captcha"},
		Context: []string{"お問い合わせ内容", "お問い合わせ本文", "メッセージ", "ご質問", "内容"},
	},
	{
		Field: FieldSei, Weight: 90, Threshold: 80,
		Tags:  []string{"input"},
		Types: []string{"text", ""},
		Strict: []string{"sei", "last_name", "lastname", "family_name", "familyname", "姓"},
		Weak:   []string{"name1", "name_1"},
		Exclude: []string{"kana", "カナ", "ふりがな", "フリガナ", "hira", "company", "会社", "mei", "first"},
		Context: []string{"姓", "苗字", "氏"},
	},
	{
		Field: FieldMei, Weight: 89, Threshold: 80,
		Tags:  []string{"input"},
		Types: []string{"text", ""},
		Strict: []string{"mei", "first_name", "firstname", "given_name", "givenname", "名"},
		Weak:   []string{"name2", "name_2"},
		Exclude: []string{"kana", "カナ", "ふりがな", "フリガナ", "hira", "company", "会社", "sei", "last", "family", "件名", "会社名"},
		Context: []string{"名", "お名前（名）"},
	},
	{
		Field: FieldUnifiedName, Weight: 88, Essential: true,
		Tags:  []string{"input"},
		Types: []string{"text", ""},
		Strict: []string{"name", "fullname", "full_name", "お名前", "氏名", "担当者名", "your-name"},
		Weak:   []string{"contact"},
		Exclude: []string{"kana", "カナ", "ふりがな", "フリガナ", "company", "会社", "first", "last", "mei", "sei", "file", "user", "login"},
		Context: []string{"お名前", "氏名", "ご担当者", "担当者名"},
	},
	{
		Field: FieldSeiKana, Weight: 85, Threshold: 80,
		Tags:  []string{"input"},
		Types: []string{"text", ""},
		Strict: []string{"sei_kana", "seikana", "last_kana", "lastkana", "姓カナ", "セイ"},
		Weak:   []string{"kana1", "kana_1", "furigana1"},
		Exclude: []string{"mei", "first", "given"},
		Context: []string{"セイ", "姓（カナ）", "姓（フリガナ）"},
	},
	{
		Field: FieldMeiKana, Weight: 84, Threshold: 80,
		Tags:  []string{"input"},
		Types: []string{"text", ""},
		Strict: []string{"mei_kana", "meikana", "first_kana", "firstkana", "名カナ", "メイ"},
		Weak:   []string{"kana2", "kana_2", "furigana2"},
		Exclude: []string{"sei", "last", "family"},
		Context: []string{"メイ", "名（カナ）", "名（フリガナ）"},
	},
	{
		Field: FieldUnifiedKana, Weight: 83, Essential: true,
		Tags:  []string{"input"},
		Types: []string{"text", ""},
		Strict: []string{"kana", "furigana", "フリガナ", "ふりがな", "カナ"},
		Weak:   []string{"yomi", "読み"},
		Exclude: []string{"sei", "mei", "first", "last", "hira"},
		Context: []string{"フリガナ", "ふりがな", "カナ"},
	},
	{
		Field: FieldSeiHira, Weight: 82, Threshold: 80,
		Tags:  []string{"input"},
		Types: []string{"text", ""},
		Strict: []string{"sei_hira", "姓ひらがな", "せい"},
		Weak:   []string{"hiragana1"},
		Exclude: []string{"mei", "first", "カナ"},
		Context: []string{"せい", "姓（ひらがな）"},
	},
	{
		Field: FieldMeiHira, Weight: 81, Threshold: 80,
		Tags:  []string{"input"},
		Types: []string{"text", ""},
		Strict: []string{"mei_hira", "名ひらがな", "めい"},
		Weak:   []string{"hiragana2"},
		Exclude: []string{"sei", "last", "カナ"},
		Context: []string{"めい", "名（ひらがな）"},
	},
	{
		Field: FieldSubject, Weight: 75,
		Tags:  []string{"input"},
		Types: []string{"text", ""},
		Strict: []string{"subject", "title", "件名", "題名", "用件"},
		Weak:   []string{},
		Exclude: []string{"message", "body", "本文"},
		Context: []string{"件名", "タイトル", "ご用件"},
	},
	{
		Field: FieldPhone, Weight: 70, RequiredBoost: requiredBoostPhone,
		Tags:  []string{"input"},
		Types: []string{"tel", "text", "number", ""},
		Strict: []string{"tel", "phone", "電話", "denwa", "携帯", "mobile"},
		Weak:   []string{"number"},
		Exclude: []string{"fax", "postal", "zip", "郵便", "time", "時間", "時刻"},
		Context: []string{"電話番号", "電話", "TEL", "お電話"},
	},
	{
		Field: FieldPostal, Weight: 65,
		Tags:  []string{"input"},
		Types: []string{"text", "tel", "number", ""},
		Strict: []string{"zip", "postal", "postcode", "郵便番号", "郵便", "〒", "yubin"},
		Weak:   []string{},
		Exclude: append([]string{"captcha", "code2", "token"}, confirmTokens...),
		Context: []string{"郵便番号", "〒"},
	},
	{
		Field: FieldPrefecture, Weight: 60,
		Tags:  []string{"select", "input"},
		Types: []string{"", "text", "select", "select-one"},
		Strict: []string{"prefecture", "pref", "都道府県", "todofuken"},
		Weak:   []string{"state", "region"},
		Exclude: []string{"city", "市区町村"},
		Context: []string{"都道府県"},
	},
	{
		Field: FieldAddress, Weight: 58,
		Tags:  []string{"input"},
		Types: []string{"text", ""},
		Strict: []string{"address", "addr", "住所", "所在地", "jusho"},
		Weak:   []string{"street", "city", "市区町村", "番地"},
		Exclude: []string{"email", "mail", "メール", "ip"},
		Context: []string{"住所", "ご住所", "所在地"},
	},
	{
		Field: FieldCompany, Weight: 55,
		Tags:  []string{"input"},
		Types: []string{"text", ""},
		Strict: []string{"company", "corp", "会社名", "会社", "法人", "貴社名", "御社名", "organization", "kaisha"},
		Weak:   []string{"office", "団体"},
		Exclude: []string{"name_sei", "department", "部署"},
		Context: []string{"会社名", "貴社名", "御社名", "法人名", "団体名"},
	},
	{
		Field: FieldDepartment, Weight: 50,
		Tags:  []string{"input"},
		Types: []string{"text", ""},
		Strict: []string{"department", "busho", "部署", "所属"},
		Weak:   []string{"division", "section"},
		Exclude: []string{"company", "会社"},
		Context: []string{"部署名", "所属部署"},
	},
	{
		Field: FieldPosition, Weight: 45,
		Tags:  []string{"input"},
		Types: []string{"text", ""},
		Strict: []string{"position", "yakushoku", "役職", "肩書"},
		Weak:   []string{"title"},
		Exclude: []string{"subject", "件名"},
		Context: []string{"役職"},
	},
	{
		Field: FieldURL, Weight: 40,
		Tags:  []string{"input"},
		Types: []string{"url", "text", ""},
		Strict: []string{"url", "website", "homepage", "ホームページ", "サイト"},
		Weak:   []string{"web", "hp"},
		Exclude: []string{"email", "mail"},
		Context: []string{"URL", "ホームページ", "ウェブサイト"},
	},
}

// Patterns returns the pattern table ordered by weight descending, with any
// configured threshold overrides applied on top of the defaults.
func Patterns(overrides map[string]int) []FieldPattern {
	out := make([]FieldPattern, len(fieldPatterns))
	copy(out, fieldPatterns)
	for i := range out {
		if v, ok := overrides[out[i].Field]; ok && v > 0 {
			out[i].Threshold = v
		}
	}
	return out
}

// patternFor returns the descriptor for a field, or nil.
func patternFor(field string) *FieldPattern {
	for i := range fieldPatterns {
		if fieldPatterns[i].Field == field {
			return &fieldPatterns[i]
		}
	}
	return nil
}
