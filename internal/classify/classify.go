// Package classify implements the submission-failure taxonomy. The
// classifier is pure: the same evidence always yields the same code.
package classify

import (
	"regexp"
	"strings"
)

// Error codes carried on failed submissions.
const (
	CodeTimeout                    = "TIMEOUT"
	CodeAccess                     = "ACCESS"
	CodeDNSError                   = "DNS_ERROR"
	CodeTLSError                   = "TLS_ERROR"
	CodeRateLimit                  = "RATE_LIMIT"
	CodeWAFChallenge               = "WAF_CHALLENGE"
	CodeBotDetected                = "BOT_DETECTED"
	CodeCSRFError                  = "CSRF_ERROR"
	CodeDuplicateSubmission        = "DUPLICATE_SUBMISSION"
	CodeMapping                    = "MAPPING"
	CodeValidationFormat           = "VALIDATION_FORMAT"
	CodeFormValidationError        = "FORM_VALIDATION_ERROR"
	CodeSubmitButtonNotFound       = "SUBMIT_BUTTON_NOT_FOUND"
	CodeSubmitButtonSelectorMissing = "SUBMIT_BUTTON_SELECTOR_MISSING"
	CodeSuccessDeterminationFailed = "SUCCESS_DETERMINATION_FAILED"
	CodeContentAnalysisFailed      = "CONTENT_ANALYSIS_FAILED"
	CodeElementNotFound            = "ELEMENT_NOT_FOUND"
	CodeElementNotInteractable     = "ELEMENT_NOT_INTERACTABLE"
	CodeInputTypeMismatch          = "INPUT_TYPE_MISMATCH"
	CodeInstruction                = "INSTRUCTION" // legacy
	CodeSystem                     = "SYSTEM"
	CodeExternal                   = "EXTERNAL"
	CodeSubmit                     = "SUBMIT"
	CodeProhibition                = "PROHIBITION_DETECTED"
)

// Evidence is everything the classifier may consider.
type Evidence struct {
	ErrorMessage   string
	HTTPStatus     int
	PageContent    string
	SubmitSelector string
	HasSubmitSelector bool // distinguishes empty selector from not-provided
}

// Detail is the structured classification attached to submission rows.
type Detail struct {
	Code       string  `json:"code"`
	Category   string  `json:"category"`
	Retryable  bool    `json:"retryable"`
	Confidence float64 `json:"confidence"`
}

var (
	rateLimitPattern  = regexp.MustCompile(`(?i)throttled|rate limit|too many requests`)
	wafPattern        = regexp.MustCompile(`(?i)cloudflare|cf-ray|attention required|akamai|checking your browser`)
	botPattern        = regexp.MustCompile(`(?i)recaptcha|g-recaptcha|hcaptcha|turnstile|bot.{0,10}(?:detect|protect)|are you a robot`)
	dnsPattern        = regexp.MustCompile(`(?i)net::ERR_NAME_NOT_RESOLVED|name.{0,5}not.{0,5}resolved|no such host`)
	tlsPattern        = regexp.MustCompile(`(?i)CERTIFICATE_VERIFY_FAILED|certificate|ssl.{0,10}error|tls.{0,10}(?:error|handshake)`)
	timeoutPattern    = regexp.MustCompile(`(?i)timeout|timed out`)
	csrfTokenPattern  = regexp.MustCompile(`(?i)csrf|xsrf|forgery|authenticity`)
	csrfStatePattern  = regexp.MustCompile(`(?i)invalid|mismatch|expired|missing|failed|required|error|不正|無効|期限切れ`)
	duplicatePattern  = regexp.MustCompile(`重複|既に(送信|登録)|(?i:duplicate|already submitted)`)
	requiredPattern   = regexp.MustCompile(`未入力|入力してください|必須|(?i:field is required|please (?:enter|select|fill))`)
	formatPattern     = regexp.MustCompile(`形式が正しくありません|(?i:invalid format|invalid (?:email|phone|url))`)
	submitNotFound    = regexp.MustCompile(`(?i)submit.{0,30}not found`)
	elementNotFound   = regexp.MustCompile(`(?i)(?:element|selector|locator).{0,30}not found`)
	notInteractable   = regexp.MustCompile(`(?i)not.{0,10}interactable|intercept(?:s|ed)? pointer|element is not (?:visible|clickable)`)
	typeMismatch      = regexp.MustCompile(`(?i)(?:input|value).{0,20}type.{0,20}mismatch|cannot (?:type|fill).{0,20}(?:into|on)`)
	accessPattern     = regexp.MustCompile(`(?i)net::ERR_|connection (?:refused|reset|closed)|403|404|503|unreachable`)
	submitFailPattern = regexp.MustCompile(`(?i)submit|送信`)
	csrfProximity     = 80
)

// Classify applies the ordered rules to the evidence and returns the coarse
// code.
func Classify(ev Evidence) string {
	msg := ev.ErrorMessage
	content := ev.PageContent

	// 1. Rate limiting.
	if ev.HTTPStatus == 429 || rateLimitPattern.MatchString(msg) || rateLimitPattern.MatchString(content) {
		return CodeRateLimit
	}
	// 2. WAF interstitials paired with a challenge status.
	if (ev.HTTPStatus == 403 || ev.HTTPStatus == 503) && (wafPattern.MatchString(msg) || wafPattern.MatchString(content)) {
		return CodeWAFChallenge
	}
	// 3. Bot walls.
	if botPattern.MatchString(msg) || botPattern.MatchString(content) {
		return CodeBotDetected
	}
	// 4. Network name/trust failures.
	if dnsPattern.MatchString(msg) {
		return CodeDNSError
	}
	if tlsPattern.MatchString(msg) {
		return CodeTLSError
	}
	// 5. Timeouts.
	if timeoutPattern.MatchString(msg) {
		return CodeTimeout
	}
	// 6. CSRF tokens near a failure word.
	if csrfNearFailure(msg) || csrfNearFailure(content) {
		return CodeCSRFError
	}
	// 7. Duplicate submissions.
	if duplicatePattern.MatchString(msg) || duplicatePattern.MatchString(content) {
		return CodeDuplicateSubmission
	}
	// Special cases: empty submit selector with page evidence.
	if ev.HasSubmitSelector && ev.SubmitSelector == "" {
		if requiredPattern.MatchString(content) {
			return CodeMapping
		}
		if formatPattern.MatchString(content) {
			return CodeValidationFormat
		}
		return CodeSubmitButtonSelectorMissing
	}
	// 8. Required/unfilled messages in page content.
	if requiredPattern.MatchString(content) {
		return CodeMapping
	}
	// 9. Format validation.
	if formatPattern.MatchString(msg) || formatPattern.MatchString(content) {
		return CodeValidationFormat
	}
	// 10. Submit button failures.
	if submitNotFound.MatchString(msg) {
		return CodeSubmitButtonNotFound
	}
	// 11. Element lookup failures.
	if elementNotFound.MatchString(msg) {
		return CodeElementNotFound
	}
	if notInteractable.MatchString(msg) {
		return CodeElementNotInteractable
	}
	// 12. Input type mismatch.
	if typeMismatch.MatchString(msg) {
		return CodeInputTypeMismatch
	}
	// 13. Coarse fallbacks.
	if submitFailPattern.MatchString(msg) {
		return CodeSubmit
	}
	if accessPattern.MatchString(msg) || ev.HTTPStatus >= 400 {
		return CodeAccess
	}
	return CodeSystem
}

// csrfNearFailure requires a CSRF/forgery token within 80 chars of a failure
// word; "token refresh failed" alone never qualifies.
func csrfNearFailure(text string) bool {
	if text == "" {
		return false
	}
	lt := strings.ToLower(text)
	for _, loc := range csrfTokenPattern.FindAllStringIndex(lt, -1) {
		start := loc[0] - csrfProximity
		if start < 0 {
			start = 0
		}
		end := loc[1] + csrfProximity
		if end > len(lt) {
			end = len(lt)
		}
		if csrfStatePattern.MatchString(lt[start:end]) {
			return true
		}
	}
	return false
}

// ClassifyDetail returns the structured detail for the same evidence.
func ClassifyDetail(ev Evidence) Detail {
	code := Classify(ev)
	return Detail{
		Code:       code,
		Category:   categoryOf(code),
		Retryable:  retryable(code),
		Confidence: confidenceOf(code, ev),
	}
}

func categoryOf(code string) string {
	switch code {
	case CodeTimeout, CodeAccess, CodeDNSError, CodeTLSError, CodeRateLimit:
		return "network"
	case CodeWAFChallenge, CodeBotDetected, CodeCSRFError:
		return "protection"
	case CodeMapping, CodeValidationFormat, CodeFormValidationError,
		CodeElementNotFound, CodeElementNotInteractable, CodeInputTypeMismatch:
		return "form"
	case CodeSubmit, CodeSubmitButtonNotFound, CodeSubmitButtonSelectorMissing,
		CodeSuccessDeterminationFailed, CodeContentAnalysisFailed:
		return "submit"
	case CodeDuplicateSubmission, CodeProhibition, CodeInstruction:
		return "policy"
	default:
		return "system"
	}
}

func retryable(code string) bool {
	switch code {
	case CodeTimeout, CodeRateLimit, CodeAccess, CodeDNSError, CodeTLSError, CodeSystem, CodeExternal:
		return true
	}
	return false
}

func confidenceOf(code string, ev Evidence) float64 {
	switch {
	case code == CodeRateLimit && ev.HTTPStatus == 429:
		return 0.95
	case code == CodeSystem:
		return 0.3
	case code == CodeAccess && ev.ErrorMessage == "":
		return 0.4
	case ev.ErrorMessage != "" && ev.PageContent != "":
		return 0.85
	default:
		return 0.7
	}
}
