package analyzer

import (
	"context"
	"fmt"
	"time"
)

// snapshotJS walks every form-relevant element in the document (descending
// into same-origin iframes and open shadow roots) and returns the full
// attribute cache in one evaluation. One DOM round-trip instead of hundreds.
const snapshotJS = `
(() => {
  const clip = (s, n) => (s || '').replace(/\s+/g, ' ').trim().slice(0, n);
  const cssEscape = (s) => (window.CSS && CSS.escape) ? CSS.escape(s) : s.replace(/([^a-zA-Z0-9_-])/g, '\\$1');

  const selectorFor = (el) => {
    if (el.id) return '#' + cssEscape(el.id);
    const tag = el.tagName.toLowerCase();
    if (el.name) {
      const sel = tag + '[name="' + el.name.replace(/"/g, '\\"') + '"]';
      try { if (document.querySelectorAll(sel).length === 1) return sel; } catch (e) {}
    }
    // positional fallback
    const path = [];
    let node = el;
    while (node && node.nodeType === 1 && path.length < 6) {
      let idx = 1, sib = node;
      while ((sib = sib.previousElementSibling)) {
        if (sib.tagName === node.tagName) idx++;
      }
      path.unshift(node.tagName.toLowerCase() + ':nth-of-type(' + idx + ')');
      if (node.id) { path[0] = '#' + cssEscape(node.id); break; }
      node = node.parentElement;
    }
    return path.join(' > ');
  };

  const labelTextFor = (el) => {
    if (el.id) {
      const lab = document.querySelector('label[for="' + cssEscape(el.id) + '"]');
      if (lab) return clip(lab.textContent, 200);
    }
    const wrap = el.closest('label');
    if (wrap) return clip(wrap.textContent, 200);
    return '';
  };

  const thTextFor = (el) => {
    const td = el.closest('td, dd');
    if (!td) return '';
    if (td.tagName === 'TD') {
      const tr = td.closest('tr');
      if (tr) { const th = tr.querySelector('th'); if (th) return clip(th.textContent, 200); }
    } else {
      let prev = td.previousElementSibling;
      while (prev) { if (prev.tagName === 'DT') return clip(prev.textContent, 200); prev = prev.previousElementSibling; }
    }
    return '';
  };

  const ariaTextFor = (el) => {
    const ids = el.getAttribute('aria-labelledby');
    if (ids) {
      const parts = ids.split(/\s+/).map(id => {
        const n = document.getElementById(id);
        return n ? n.textContent : '';
      });
      const joined = clip(parts.join(' '), 200);
      if (joined) return joined;
    }
    return clip(el.getAttribute('aria-label'), 200);
  };

  const siblingTextFor = (el) => {
    let node = el.previousSibling, out = '', hops = 0;
    while (node && hops < 2) {
      if (node.nodeType === 3) out = node.textContent + ' ' + out;
      else if (node.nodeType === 1) out = node.textContent + ' ' + out;
      node = node.previousSibling; hops++;
    }
    return clip(out, 200);
  };

  const parentTextFor = (el) => {
    const p = el.parentElement;
    return p ? clip(p.textContent, 300) : '';
  };

  const groupTextFor = (el) => {
    let node = el.parentElement, depth = 0;
    while (node && depth < 6) {
      const radios = node.querySelectorAll('input[type=radio], input[type=checkbox]');
      if (radios.length > 1) return clip(node.textContent, 300);
      node = node.parentElement; depth++;
    }
    return '';
  };

  const forms = [];
  const formEls = Array.from(document.querySelectorAll('form'));
  formEls.forEach((f, i) => {
    const r = f.getBoundingClientRect();
    forms.push({
      index: i,
      selector: selectorFor(f),
      action: f.getAttribute('action') || '',
      method: (f.getAttribute('method') || 'get').toLowerCase(),
      bbox: { x: r.x + window.scrollX, y: r.y + window.scrollY, width: r.width, height: r.height }
    });
  });

  const roots = [document];
  document.querySelectorAll('*').forEach(n => { if (n.shadowRoot) roots.push(n.shadowRoot); });
  document.querySelectorAll('iframe').forEach(fr => {
    try { if (fr.contentDocument) roots.push(fr.contentDocument); } catch (e) {}
  });

  const elements = [];
  const hidden = [];
  let domIndex = 0;
  for (const root of roots) {
    root.querySelectorAll('input, textarea, select, button, [role=button]').forEach(el => {
      const tag = el.tagName.toLowerCase();
      const type = (el.getAttribute('type') || '').toLowerCase();
      const style = window.getComputedStyle(el);
      const r = el.getBoundingClientRect();
      const visible = style.display !== 'none' && style.visibility !== 'hidden' && r.width > 0 && r.height > 0;
      const form = el.closest ? el.closest('form') : null;
      const info = {
        selector: selectorFor(el),
        tag: tag,
        type: type,
        name: el.getAttribute('name') || '',
        id: el.id || '',
        class: el.getAttribute('class') || '',
        placeholder: el.getAttribute('placeholder') || '',
        value: (tag === 'select') ? '' : (el.value || ''),
        required_attr: el.hasAttribute('required'),
        aria_required: el.getAttribute('aria-required') === 'true',
        visible: visible,
        enabled: !el.disabled && !el.readOnly,
        checked: !!el.checked,
        max_length: el.maxLength > 0 ? el.maxLength : 0,
        bbox: { x: r.x + window.scrollX, y: r.y + window.scrollY, width: r.width, height: r.height },
        label_text: labelTextFor(el),
        th_text: thTextFor(el),
        aria_label_text: ariaTextFor(el),
        parent_class: el.parentElement ? (el.parentElement.getAttribute('class') || '') : '',
        parent_text: parentTextFor(el),
        sibling_text: siblingTextFor(el),
        group_text: (type === 'radio' || type === 'checkbox') ? groupTextFor(el) : '',
        form_index: form ? formEls.indexOf(form) : -1,
        dom_index: domIndex++,
        button_text: (tag === 'button' || el.getAttribute('role') === 'button') ? clip(el.textContent, 100) : '',
        role: el.getAttribute('role') || ''
      };
      if (tag === 'select') {
        info.options = Array.from(el.options).map((o, oi) => ({
          index: oi, value: o.value, text: clip(o.textContent, 100), selected: o.selected
        }));
      }
      if (tag === 'input' && type === 'hidden') hidden.push(info); else elements.push(info);
    });
  }

  return {
    elements: elements,
    forms: forms,
    hidden_hints: hidden,
    body_text: clip(document.body ? document.body.innerText : '', 4000)
  };
})()
`

const countRelevantJS = `document.querySelectorAll('input, textarea, select, button').length`

// BuildSnapshot scrolls the page progressively until no new form-relevant
// elements appear, then captures the full structural snapshot in a single
// batched evaluation.
func BuildSnapshot(ctx context.Context, page Page) (*Snapshot, error) {
	prev := -1
	for i := 0; i < 8; i++ {
		var count int
		if err := page.Evaluate(ctx, countRelevantJS, &count); err != nil {
			return nil, fmt.Errorf("snapshot element count: %w", err)
		}
		if count == prev {
			break
		}
		prev = count
		if err := page.ScrollBy(ctx, 1200); err != nil {
			return nil, fmt.Errorf("snapshot scroll: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}

	snap := &Snapshot{}
	if err := page.Evaluate(ctx, snapshotJS, snap); err != nil {
		return nil, fmt.Errorf("snapshot evaluate: %w", err)
	}
	return snap, nil
}
