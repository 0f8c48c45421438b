package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleSelectsPicksClientPrefecture(t *testing.T) {
	sel := &Element{
		Selector: "#pref", Tag: "select", Name: "pref",
		RequiredAttr: true, Visible: true, Enabled: true, DOMIndex: 0,
		Options: []Option{
			{Index: 0, Value: "", Text: "都道府県を選択", Selected: true},
			{Index: 1, Value: "tokyo", Text: "東京都"},
			{Index: 2, Value: "osaka", Text: "大阪府"},
		},
	}
	snap := &Snapshot{Elements: []*Element{sel}}
	b := ClassifyElements(snap)
	req := AnalyzeRequired(snap, b)
	client := analyzerClient()
	client.Client.Address1 = "東京都"

	out := HandleUnmapped(FieldMapping{}, b, req, client)

	require.Len(t, out, 1)
	h := out[0]
	assert.Equal(t, "select_pref", h.Field)
	assert.Equal(t, AutoActionSelectIndex, h.AutoAction)
	assert.Equal(t, 1, h.SelectIndex)
	assert.Equal(t, "tokyo", h.Value)
}

func TestHandleSelectsKeepsNonDummyDefault(t *testing.T) {
	sel := &Element{
		Selector: "#topic", Tag: "select", Name: "topic",
		RequiredAttr: true, Visible: true, Enabled: true, DOMIndex: 0,
		Options: []Option{
			{Index: 0, Value: "sales", Text: "製品について"},
			{Index: 1, Value: "support", Text: "サポート", Selected: true},
		},
	}
	snap := &Snapshot{Elements: []*Element{sel}}
	b := ClassifyElements(snap)
	req := AnalyzeRequired(snap, b)

	out := HandleUnmapped(FieldMapping{}, b, req, analyzerClient())

	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].SelectIndex)
	assert.Equal(t, "support", out[0].Value)
}

func TestHandleEmailConfirmCopiesPrimaryValue(t *testing.T) {
	email := bareInput(0, "email", "email", true)
	confirm := bareInput(1, "email", "email_confirm", true)
	snap := &Snapshot{Elements: []*Element{email, confirm}}
	b := ClassifyElements(snap)
	req := AnalyzeRequired(snap, b)
	mapping := FieldMapping{
		FieldEmail: newMapped(FieldEmail, email, 95, SourceNormal, req),
	}
	client := analyzerClient()

	out := HandleUnmapped(mapping, b, req, client)

	require.Len(t, out, 1)
	h := out[0]
	assert.Equal(t, "confirm_email_confirm", h.Field)
	assert.Equal(t, AutoActionCopyFrom, h.AutoAction)
	assert.Equal(t, FieldEmail, h.CopyFromField)

	assignments := AssignValues(mapping, out, client)
	require.NotNil(t, assignments["confirm_email_confirm"])
	assert.Equal(t, client.Client.Email, assignments["confirm_email_confirm"].Value)
}

func TestHandleEmailConfirmNeedsPrimaryMapping(t *testing.T) {
	confirm := bareInput(0, "email", "email_confirm", true)
	b := ClassifyElements(&Snapshot{Elements: []*Element{confirm}})

	out := handleEmailConfirm(FieldMapping{}, b, map[string]bool{})

	assert.Empty(t, out, "no primary email means nothing to copy from")
}
