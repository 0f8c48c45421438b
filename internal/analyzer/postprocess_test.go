package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bareInput(i int, typ, name string, required bool) *Element {
	return &Element{
		Selector:     "#" + name,
		Tag:          "input",
		Type:         typ,
		Name:         name,
		RequiredAttr: required,
		Visible:      true,
		Enabled:      true,
		DOMIndex:     i,
	}
}

func TestPromotePhoneTriplet(t *testing.T) {
	snap := &Snapshot{Elements: []*Element{
		bareInput(0, "tel", "tel1", false),
		bareInput(1, "tel", "tel2", false),
		bareInput(2, "tel", "tel3", false),
	}}
	b := ClassifyElements(snap)
	req := AnalyzeRequired(snap, b)
	mapping := FieldMapping{
		FieldPhone: newMapped(FieldPhone, snap.Elements[0], 90, SourceNormal, req),
	}

	PostProcess(mapping, b, req)

	assert.Nil(t, mapping[FieldPhone], "single phone slot is replaced by the split")
	require.NotNil(t, mapping[FieldPhone1])
	require.NotNil(t, mapping[FieldPhone2])
	require.NotNil(t, mapping[FieldPhone3])
	assert.Equal(t, "#tel1", mapping[FieldPhone1].Selector)
	assert.Equal(t, "#tel2", mapping[FieldPhone2].Selector)
	assert.Equal(t, "#tel3", mapping[FieldPhone3].Selector)
	assert.Equal(t, SourcePromoteSplit, mapping[FieldPhone1].Source)

	// Re-running the pipeline over an already-promoted mapping changes
	// nothing.
	PostProcess(mapping, b, req)
	assert.Nil(t, mapping[FieldPhone])
	assert.Equal(t, "#tel2", mapping[FieldPhone2].Selector)
	assert.Len(t, mapping, 3)
}

func TestPromotePostalSplit(t *testing.T) {
	snap := &Snapshot{Elements: []*Element{
		bareInput(0, "text", "postal-code-1", true),
		bareInput(1, "text", "postal-code-2", true),
	}}
	b := ClassifyElements(snap)
	req := AnalyzeRequired(snap, b)
	mapping := FieldMapping{
		FieldPostal: newMapped(FieldPostal, snap.Elements[0], 85, SourceNormal, req),
	}

	PostProcess(mapping, b, req)

	assert.Nil(t, mapping[FieldPostal])
	require.NotNil(t, mapping[FieldPostal1])
	require.NotNil(t, mapping[FieldPostal2])
	assert.Equal(t, "#postal-code-1", mapping[FieldPostal1].Selector)
	assert.Equal(t, "#postal-code-2", mapping[FieldPostal2].Selector)
}

func TestPostalSplitNeedsBothRequired(t *testing.T) {
	snap := &Snapshot{Elements: []*Element{
		bareInput(0, "text", "postal-code-1", true),
		bareInput(1, "text", "postal-code-2", false),
	}}
	b := ClassifyElements(snap)
	req := &RequiredInfo{required: map[string]bool{"#postal-code-1": true}}
	mapping := FieldMapping{
		FieldPostal: newMapped(FieldPostal, snap.Elements[0], 85, SourceNormal, req),
	}

	promotePostalSplit(mapping, b, req)

	assert.NotNil(t, mapping[FieldPostal], "single slot survives a half-required pair")
	assert.Nil(t, mapping[FieldPostal1])
}

func TestAssignValuesCombinesSinglePostal(t *testing.T) {
	client := analyzerClient()
	client.Client.PostalCode1 = "123"
	client.Client.PostalCode2 = "4567"
	req := &RequiredInfo{required: map[string]bool{}}
	mapping := FieldMapping{
		FieldPostal: newMapped(FieldPostal, bareInput(0, "text", "zip", false), 85, SourceNormal, req),
	}

	out := AssignValues(mapping, nil, client)

	require.NotNil(t, out[FieldPostal])
	assert.Equal(t, "1234567", out[FieldPostal].Value)
}

func TestRescueRequiredDefaultsToFullWidthSpace(t *testing.T) {
	snap := &Snapshot{Elements: []*Element{
		bareInput(0, "text", "field7", true),
	}}
	b := ClassifyElements(snap)
	req := AnalyzeRequired(snap, b)
	mapping := FieldMapping{}

	PostProcess(mapping, b, req)

	m := mapping["auto_required_text_1"]
	require.NotNil(t, m, "required input with no inferable field gets an auto slot")
	assert.Equal(t, "#field7", m.Selector)
	assert.Equal(t, SourceRequiredRescue, m.Source)

	out := AssignValues(mapping, nil, analyzerClient())
	require.NotNil(t, out["auto_required_text_1"])
	assert.Equal(t, FullWidthSpace, out["auto_required_text_1"].Value)
}

func TestRescueRequiredInfersLogicalField(t *testing.T) {
	snap := &Snapshot{Elements: []*Element{
		bareInput(0, "email", "contact-mail-address", true),
	}}
	b := ClassifyElements(snap)
	req := AnalyzeRequired(snap, b)
	mapping := FieldMapping{}

	PostProcess(mapping, b, req)

	require.NotNil(t, mapping[FieldEmail])
	assert.Equal(t, SourceRequiredRescue, mapping[FieldEmail].Source)
}
