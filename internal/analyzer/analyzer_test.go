package analyzer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitto-dev/mitto/internal/common"
	"github.com/mitto-dev/mitto/internal/models"
	"github.com/mitto-dev/mitto/internal/prohibition"
)

// fakePage serves a pre-built snapshot instead of a live DOM. The count
// expression returns a stable element count so BuildSnapshot settles after
// one scroll.
type fakePage struct {
	snap *Snapshot
	html string
}

func (p *fakePage) Evaluate(_ context.Context, js string, out any) error {
	if js == countRelevantJS {
		*(out.(*int)) = len(p.snap.Elements)
		return nil
	}
	data, err := json.Marshal(p.snap)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (p *fakePage) Content(context.Context) (string, error) { return p.html, nil }

func (p *fakePage) ScrollBy(context.Context, int) error { return nil }

func analyzerClient() *models.ClientConfig {
	return &models.ClientConfig{
		Client: models.ClientPersonal{
			CompanyName:   "アクメ株式会社",
			LastName:      "山田",
			FirstName:     "太郎",
			LastNameKana:  "ヤマダ",
			FirstNameKana: "タロウ",
			Email:         "yamada@example.com",
			Phone1:        "03",
			Phone2:        "1234",
			Phone3:        "5678",
		},
		Targeting: models.ClientTargeting{
			TargetingID: 1,
			Subject:     "ご提案の件",
			Message:     "はじめまして。お取引のご相談でご連絡いたしました。",
		},
	}
}

// contactSnapshot is a typical Japanese inquiry form: email, name, kana,
// phone, a message textarea and one submit button, all inside form 0.
func contactSnapshot() *Snapshot {
	mk := func(i int, sel, tag, typ, name, label string, required bool) *Element {
		return &Element{
			Selector:     sel,
			Tag:          tag,
			Type:         typ,
			Name:         name,
			LabelText:    label,
			RequiredAttr: required,
			Visible:      true,
			Enabled:      true,
			FormIndex:    0,
			DOMIndex:     i,
			BBox:         Rect{X: 40, Y: float64(100 + i*80), Width: 300, Height: 32},
		}
	}
	submit := &Element{
		Selector: "#send", Tag: "button", Type: "submit", ButtonText: "送信する",
		Visible: true, Enabled: true, FormIndex: 0, DOMIndex: 5,
		BBox: Rect{X: 40, Y: 600, Width: 120, Height: 40},
	}
	return &Snapshot{
		Elements: []*Element{
			mk(0, `input[name="email"]`, "input", "email", "email", "メールアドレス", true),
			mk(1, `input[name="your-name"]`, "input", "text", "your-name", "お名前", true),
			mk(2, `input[name="kana"]`, "input", "text", "kana", "フリガナ", true),
			mk(3, `input[name="tel"]`, "input", "tel", "tel", "電話番号", false),
			mk(4, `textarea[name="inquiry"]`, "textarea", "", "inquiry", "お問い合わせ内容", true),
			submit,
		},
		Forms: []FormInfo{
			{Index: 0, Selector: "form", Method: "post", BBox: Rect{X: 0, Y: 80, Width: 800, Height: 700}},
		},
		BodyText: "お問い合わせはこちらのフォームからお願いいたします。",
	}
}

func TestAnalyzeContactForm(t *testing.T) {
	page := &fakePage{
		snap: contactSnapshot(),
		html: "<html><body><p>お問い合わせフォームです。</p></body></html>",
	}
	client := analyzerClient()
	a := New(common.GetLogger(), nil)

	res := a.Analyze(context.Background(), page, client)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, FormTypeContact, res.FormType)

	require.NotNil(t, res.FieldMapping[FieldEmail])
	assert.Equal(t, `input[name="email"]`, res.FieldMapping[FieldEmail].Selector)
	require.NotNil(t, res.FieldMapping[FieldMessage])
	assert.Equal(t, `textarea[name="inquiry"]`, res.FieldMapping[FieldMessage].Selector)
	require.NotNil(t, res.FieldMapping[FieldUnifiedName])
	assert.Equal(t, `input[name="your-name"]`, res.FieldMapping[FieldUnifiedName].Selector)
	require.NotNil(t, res.FieldMapping[FieldUnifiedKana])
	require.NotNil(t, res.FieldMapping[FieldPhone])

	require.NotNil(t, res.InputAssignments[FieldEmail])
	assert.Equal(t, "yamada@example.com", res.InputAssignments[FieldEmail].Value)
	assert.Equal(t, client.Targeting.Message, res.InputAssignments[FieldMessage].Value)
	assert.Equal(t, "山田 太郎", res.InputAssignments[FieldUnifiedName].Value)
	assert.Equal(t, "ヤマダ タロウ", res.InputAssignments[FieldUnifiedKana].Value)
	assert.Equal(t, "0312345678", res.InputAssignments[FieldPhone].Value)

	require.NotEmpty(t, res.SubmitButtons)
	assert.Equal(t, "#send", res.SubmitButtons[0].Selector)

	require.NotNil(t, res.ValidationResult)
	assert.True(t, res.ValidationResult.Valid)
	assert.Empty(t, res.ValidationResult.MissingEssentials)

	require.NotNil(t, res.SalesProhibition)
	assert.False(t, res.SalesProhibition.Detected)
}

func TestAnalyzeSearchFormShortCircuits(t *testing.T) {
	page := &fakePage{
		snap: &Snapshot{
			Elements: []*Element{
				{
					Selector: `input[name="q"]`, Tag: "input", Type: "text", Name: "q",
					Placeholder: "検索", Visible: true, Enabled: true,
					FormIndex: 0, DOMIndex: 0,
					BBox: Rect{X: 500, Y: 20, Width: 200, Height: 30},
				},
				{
					Selector: "#search-btn", Tag: "button", Type: "submit", ButtonText: "検索",
					Visible: true, Enabled: true, FormIndex: 0, DOMIndex: 1,
					BBox: Rect{X: 710, Y: 20, Width: 60, Height: 30},
				},
			},
			Forms: []FormInfo{
				{Index: 0, Selector: "form", Method: "get", BBox: Rect{X: 490, Y: 10, Width: 300, Height: 50}},
			},
			BodyText: "商品を検索",
		},
		html: "<html><body></body></html>",
	}
	a := New(common.GetLogger(), nil)

	res := a.Analyze(context.Background(), page, analyzerClient())

	assert.False(t, res.Success)
	assert.Equal(t, FormTypeSearch, res.FormType)
	assert.Contains(t, res.Error, "search")
	assert.Empty(t, res.FieldMapping)
}

func TestAnalyzeEmptyPage(t *testing.T) {
	page := &fakePage{snap: &Snapshot{}, html: "<html><body></body></html>"}
	a := New(common.GetLogger(), nil)

	res := a.Analyze(context.Background(), page, analyzerClient())

	assert.False(t, res.Success)
	assert.Equal(t, "no form-relevant elements found", res.Error)
}

func TestAnalyzeFlagsSalesProhibition(t *testing.T) {
	page := &fakePage{
		snap: contactSnapshot(),
		html: "<html><body><p>営業電話はお断りいたします。</p></body></html>",
	}
	a := New(common.GetLogger(), nil)

	res := a.Analyze(context.Background(), page, analyzerClient())

	// Detection is advisory: the analysis itself still succeeds.
	require.True(t, res.Success, res.Error)
	require.NotNil(t, res.SalesProhibition)
	assert.True(t, res.SalesProhibition.Detected)
	assert.NotEqual(t, prohibition.SeverityWeak, res.SalesProhibition.Severity)
	require.NotEmpty(t, res.SalesProhibition.Matches)
	assert.Equal(t, "direct", res.SalesProhibition.Matches[0].Category)
}
