package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/mitto-dev/mitto/internal/common"
)

// Page is the chromedp implementation of the analyzer page handle, plus the
// interaction operations the worker needs to fill and submit forms.
type Page struct {
	ctx        context.Context
	cfg        common.BrowserConfig
	httpStatus int
}

// HTTPStatus returns the status of the document response that produced this
// page, or 0 when it was not observed.
func (p *Page) HTTPStatus() int { return p.httpStatus }

// Evaluate runs a JavaScript expression and unmarshals the JSON result.
func (p *Page) Evaluate(ctx context.Context, js string, out any) error {
	runCtx, cancel := p.opContext(ctx, p.cfg.FormTimeout)
	defer cancel()
	var raw json.RawMessage
	if err := chromedp.Run(runCtx, chromedp.Evaluate(js, &raw)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	return nil
}

// Content returns the full page HTML.
func (p *Page) Content(ctx context.Context) (string, error) {
	runCtx, cancel := p.opContext(ctx, p.cfg.FormTimeout)
	defer cancel()
	var html string
	if err := chromedp.Run(runCtx,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("page content: %w", err)
	}
	return html, nil
}

// ScrollBy scrolls the viewport vertically.
func (p *Page) ScrollBy(ctx context.Context, deltaY int) error {
	js := fmt.Sprintf("window.scrollBy(0, %d); true", deltaY)
	return p.Evaluate(ctx, js, nil)
}

// CurrentURL returns the page location after any redirects.
func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	runCtx, cancel := p.opContext(ctx, p.cfg.FormTimeout)
	defer cancel()
	var url string
	if err := chromedp.Run(runCtx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("page location: %w", err)
	}
	return url, nil
}

// fillJS assigns a value through the native setter and fires input/change so
// framework-bound forms (React, Vue) observe the edit.
const fillJS = `(function(sel, val) {
	var el = document.querySelector(sel);
	if (!el) return {ok: false, error: "element not found"};
	var proto = el.tagName === 'TEXTAREA' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
	var desc = Object.getOwnPropertyDescriptor(proto, 'value');
	if (desc && desc.set) { desc.set.call(el, val); } else { el.value = val; }
	el.dispatchEvent(new Event('input', {bubbles: true}));
	el.dispatchEvent(new Event('change', {bubbles: true}));
	return {ok: true};
})(%s, %s)`

type jsResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Fill writes value into the input or textarea at selector.
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	js := fmt.Sprintf(fillJS, jsString(selector), jsString(value))
	var res jsResult
	if err := p.Evaluate(ctx, js, &res); err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("fill %s: %s", selector, res.Error)
	}
	return nil
}

const selectJS = `(function(sel, val) {
	var el = document.querySelector(sel);
	if (!el) return {ok: false, error: "element not found"};
	el.value = val;
	el.dispatchEvent(new Event('change', {bubbles: true}));
	return {ok: el.value === val, error: el.value === val ? "" : "option not present"};
})(%s, %s)`

// SelectOption selects the option with the given value on a <select>.
func (p *Page) SelectOption(ctx context.Context, selector, value string) error {
	js := fmt.Sprintf(selectJS, jsString(selector), jsString(value))
	var res jsResult
	if err := p.Evaluate(ctx, js, &res); err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("select %s: %s", selector, res.Error)
	}
	return nil
}

const checkJS = `(function(sel, want) {
	var el = document.querySelector(sel);
	if (!el) return {ok: false, error: "element not found"};
	if (el.checked !== want) { el.click(); }
	return {ok: el.checked === want, error: ""};
})(%s, %t)`

// SetChecked checks or unchecks a checkbox or radio via a real click.
func (p *Page) SetChecked(ctx context.Context, selector string, want bool) error {
	js := fmt.Sprintf(checkJS, jsString(selector), want)
	var res jsResult
	if err := p.Evaluate(ctx, js, &res); err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("set checked %s: %s", selector, res.Error)
	}
	return nil
}

// Click clicks the element at selector.
func (p *Page) Click(ctx context.Context, selector string) error {
	runCtx, cancel := p.opContext(ctx, p.cfg.SubmitTimeout)
	defer cancel()
	if err := chromedp.Run(runCtx,
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
	); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// WaitQuiet gives the page time to settle after a click: in-page validation,
// AJAX submission or a navigation all need a beat before the outcome is read.
func (p *Page) WaitQuiet(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (p *Page) opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	merged, cancel := context.WithTimeout(p.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return merged, func() { stop(); cancel() }
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
