package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		ev   Evidence
		want string
	}{
		{"status 429", Evidence{HTTPStatus: 429}, CodeRateLimit},
		{"throttle message", Evidence{ErrorMessage: "Too many requests, slow down"}, CodeRateLimit},
		{"waf interstitial", Evidence{HTTPStatus: 403, PageContent: "Checking your browser before accessing"}, CodeWAFChallenge},
		{"waf needs challenge status", Evidence{HTTPStatus: 200, PageContent: "cloudflare"}, CodeSystem},
		{"recaptcha wall", Evidence{PageContent: `<div class="g-recaptcha"></div>`}, CodeBotDetected},
		{"dns failure", Evidence{ErrorMessage: "net::ERR_NAME_NOT_RESOLVED"}, CodeDNSError},
		{"tls failure", Evidence{ErrorMessage: "CERTIFICATE_VERIFY_FAILED while connecting"}, CodeTLSError},
		{"navigation timeout", Evidence{ErrorMessage: "navigation timed out after 30s"}, CodeTimeout},
		{"csrf token near failure", Evidence{PageContent: "CSRF token is invalid or expired"}, CodeCSRFError},
		{"token refresh alone is not csrf", Evidence{ErrorMessage: "token refresh failed"}, CodeSystem},
		{"duplicate submission", Evidence{PageContent: "このお問い合わせは既に送信されています"}, CodeDuplicateSubmission},
		{"missing selector with required message", Evidence{HasSubmitSelector: true, PageContent: "必須項目が未入力です"}, CodeMapping},
		{"missing selector with format message", Evidence{HasSubmitSelector: true, PageContent: "メールアドレスの形式が正しくありません"}, CodeValidationFormat},
		{"missing selector without page evidence", Evidence{HasSubmitSelector: true}, CodeSubmitButtonSelectorMissing},
		{"submit button not found", Evidence{ErrorMessage: "submit button was not found"}, CodeSubmitButtonNotFound},
		{"element not found", Evidence{ErrorMessage: "element #email not found"}, CodeElementNotFound},
		{"element not interactable", Evidence{ErrorMessage: "element is not clickable at point"}, CodeElementNotInteractable},
		{"connection refused", Evidence{ErrorMessage: "connection refused by peer"}, CodeAccess},
		{"bare 4xx status", Evidence{HTTPStatus: 404}, CodeAccess},
		{"nothing matches", Evidence{ErrorMessage: "unexpected condition"}, CodeSystem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.ev))
		})
	}
}

func TestClassifyDetail(t *testing.T) {
	d := ClassifyDetail(Evidence{HTTPStatus: 429})
	assert.Equal(t, CodeRateLimit, d.Code)
	assert.Equal(t, "network", d.Category)
	assert.True(t, d.Retryable)
	assert.Equal(t, 0.95, d.Confidence)

	d = ClassifyDetail(Evidence{HasSubmitSelector: true, PageContent: "必須項目が未入力です"})
	assert.Equal(t, CodeMapping, d.Code)
	assert.Equal(t, "form", d.Category)
	assert.False(t, d.Retryable)
}
