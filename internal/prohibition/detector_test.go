package prohibition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitto-dev/mitto/internal/common"
)

func TestDetectSingleDirectStatement(t *testing.T) {
	d := NewDetector(common.GetLogger())

	det := d.Detect("<html><body><p>営業電話はお断りします。</p></body></html>")

	require.True(t, det.Detected)
	assert.Equal(t, SeverityModerate, det.Severity)
	require.NotEmpty(t, det.Matches)
	assert.Equal(t, "direct", det.Matches[0].Category)
}

func TestDetectMultipleDirectStatementsAreStrict(t *testing.T) {
	d := NewDetector(common.GetLogger())

	det := d.Detect("<html><body>" +
		"<p>営業電話はお断りします。</p>" +
		"<p>セールスのご連絡はご遠慮ください。</p>" +
		"</body></html>")

	require.True(t, det.Detected)
	assert.Equal(t, SeverityStrict, det.Severity)
	assert.GreaterOrEqual(t, len(det.Matches), 2)
}

func TestDetectIndirectStatementsAreMild(t *testing.T) {
	d := NewDetector(common.GetLogger())

	det := d.Detect("<html><body><p>営業目的のお問い合わせには返信いたしません。</p></body></html>")

	require.True(t, det.Detected)
	assert.Equal(t, SeverityMild, det.Severity)
}

func TestDetectCleanPage(t *testing.T) {
	d := NewDetector(common.GetLogger())

	det := d.Detect("<html><body><p>お問い合わせはお気軽にどうぞ。</p></body></html>")

	assert.False(t, det.Detected)
	assert.Equal(t, SeverityWeak, det.Severity)
	assert.Empty(t, det.Matches)
}
