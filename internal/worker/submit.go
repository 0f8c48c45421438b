package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mitto-dev/mitto/internal/analyzer"
	"github.com/mitto-dev/mitto/internal/browser"
	"github.com/mitto-dev/mitto/internal/classify"
	"github.com/mitto-dev/mitto/internal/common"
	"github.com/mitto-dev/mitto/internal/models"
	"github.com/mitto-dev/mitto/internal/prohibition"
)

// outcome is the internal result of one submission attempt.
type outcome struct {
	status         string
	errorType      string
	errorMessage   string
	botProtection  bool
	recycleBrowser bool
	additionalData map[string]any
}

var successTokens = []string{
	"ありがとうございま", "送信完了", "送信されました", "受け付けました", "受付完了",
	"完了しました", "thank you", "successfully sent", "submission received",
}

var botWallTokens = []string{
	"recaptcha", "g-recaptcha", "h-captcha", "hcaptcha", "cf-turnstile",
	"press & hold", "verify you are human",
}

// submitForm drives one company's form: navigate, analyze, fill, submit,
// determine success.
func (w *Worker) submitForm(ctx context.Context, company *models.Company, client *models.ClientConfig) *outcome {
	page, err := w.session.NewPage(ctx, company.FormURL)
	if err != nil {
		return &outcome{
			status:         models.StatusFailed,
			errorType:      classify.Classify(classify.Evidence{ErrorMessage: err.Error()}),
			errorMessage:   err.Error(),
			recycleBrowser: true,
		}
	}

	res := w.analyzer.Analyze(ctx, page, client)

	if det := res.SalesProhibition; det != nil && det.Detected &&
		(det.Severity == prohibition.SeverityStrict || det.Severity == prohibition.SeverityModerate) {
		return &outcome{
			status:       models.StatusProhibitionDetected,
			errorType:    classify.CodeProhibition,
			errorMessage: fmt.Sprintf("prohibition detected: %s severity, %d matches", det.Severity, len(det.Matches)),
		}
	}

	if !res.Success {
		return &outcome{
			status:         models.StatusFailed,
			errorType:      classify.Classify(classify.Evidence{ErrorMessage: res.Error, HTTPStatus: page.HTTPStatus()}),
			errorMessage:   res.Error,
			additionalData: map[string]any{"http_status": page.HTTPStatus()},
		}
	}

	if v := res.ValidationResult; v != nil && len(v.MissingEssentials) > 0 {
		return &outcome{
			status:       models.StatusFailed,
			errorType:    classify.CodeMapping,
			errorMessage: fmt.Sprintf("essential fields unmapped: %s", strings.Join(v.MissingEssentials, ", ")),
		}
	}

	if msg, code := w.fillAll(ctx, page, res); code != "" {
		return &outcome{status: models.StatusFailed, errorType: code, errorMessage: msg}
	}

	out := w.submitAndConfirm(ctx, page, res)

	if out.status != models.StatusSuccess {
		out.botProtection = out.botProtection || w.pageHasBotWall(ctx, page)
	}
	return out
}

// fillAll applies every planned assignment to the live page. Returns a
// message and code on the first unrecoverable failure; optional fields that
// fail to fill are logged and skipped.
func (w *Worker) fillAll(ctx context.Context, page *browser.Page, res *analyzer.Result) (string, string) {
	for field, a := range res.InputAssignments {
		var err error
		switch {
		case a.AutoAction == analyzer.AutoActionSelectIndex || a.InputType == "select":
			err = page.SelectOption(ctx, a.Selector, a.Value)
		case a.AutoAction == analyzer.AutoActionCheck || a.InputType == "checkbox" || a.InputType == "radio":
			err = page.SetChecked(ctx, a.Selector, true)
		default:
			err = page.Fill(ctx, a.Selector, a.Value)
		}
		if err == nil {
			continue
		}
		if a.Required {
			msg := fmt.Sprintf("fill %s failed: %v", field, err)
			return msg, classify.Classify(classify.Evidence{ErrorMessage: msg})
		}
		w.logger.Debug().Err(err).
			Str("field", field).
			Str("value", common.Sanitize(a.Value)).
			Msg("Optional field fill failed, skipping")
	}
	return "", ""
}

// submitAndConfirm clicks the best submit candidate and reads the outcome
// from the post-submit page.
func (w *Worker) submitAndConfirm(ctx context.Context, page *browser.Page, res *analyzer.Result) *outcome {
	if len(res.SubmitButtons) == 0 {
		content, _ := page.Content(ctx)
		code := classify.Classify(classify.Evidence{
			ErrorMessage:      "submit button not found",
			HTTPStatus:        page.HTTPStatus(),
			PageContent:       clipContent(content),
			HasSubmitSelector: false,
		})
		return &outcome{status: models.StatusFailed, errorType: code, errorMessage: "submit button not found"}
	}

	beforeURL, _ := page.CurrentURL(ctx)

	btn := res.SubmitButtons[0]
	if err := page.Click(ctx, btn.Selector); err != nil {
		msg := fmt.Sprintf("submit click failed: %v", err)
		return &outcome{
			status:       models.StatusFailed,
			errorType:    classify.Classify(classify.Evidence{ErrorMessage: msg, SubmitSelector: btn.Selector, HasSubmitSelector: true}),
			errorMessage: msg,
		}
	}

	wait := w.cfg.Browser.SubmitTimeout
	if wait <= 0 {
		wait = 5 * time.Second
	}
	if err := page.WaitQuiet(ctx, wait); err != nil {
		return &outcome{status: models.StatusFailed, errorType: classify.CodeTimeout, errorMessage: err.Error()}
	}

	afterURL, _ := page.CurrentURL(ctx)
	content, err := page.Content(ctx)
	if err != nil {
		return &outcome{
			status:         models.StatusFailed,
			errorType:      classify.CodeSuccessDeterminationFailed,
			errorMessage:   fmt.Sprintf("post-submit page unreadable: %v", err),
			recycleBrowser: true,
		}
	}
	lower := strings.ToLower(content)

	for _, tok := range successTokens {
		if strings.Contains(lower, strings.ToLower(tok)) {
			return &outcome{status: models.StatusSuccess}
		}
	}

	// A clean navigation away from the form with no error text also counts.
	code := classify.Classify(classify.Evidence{
		ErrorMessage:      "",
		PageContent:       clipContent(content),
		SubmitSelector:    btn.Selector,
		HasSubmitSelector: true,
	})
	if code == classify.CodeMapping || code == classify.CodeValidationFormat || code == classify.CodeFormValidationError {
		return &outcome{
			status:       models.StatusFailed,
			errorType:    code,
			errorMessage: "form re-rendered with validation errors",
		}
	}
	if afterURL != beforeURL && afterURL != "" {
		return &outcome{status: models.StatusSuccess}
	}
	return &outcome{
		status:       models.StatusFailed,
		errorType:    classify.CodeSuccessDeterminationFailed,
		errorMessage: "no success signal after submit",
	}
}

func (w *Worker) pageHasBotWall(ctx context.Context, page *browser.Page) bool {
	content, err := page.Content(ctx)
	if err != nil {
		return false
	}
	lower := strings.ToLower(content)
	for _, tok := range botWallTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

func clipContent(s string) string {
	const max = 20000
	if len(s) > max {
		return s[:max]
	}
	return s
}
