package chrome

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// jsString renders s as a JavaScript string literal. JSON string syntax is a
// subset of JS, so marshalling is the safe quoting path for arbitrary input.
func jsString(s string) string {
	b, err := jsonAPI.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

// refSelector addresses an element tagged during Locate.
func refSelector(id string) string {
	return fmt.Sprintf("[data-aux-ref=%s]", jsString(id))
}

// locateScript matches elements in document order, tags them with stable ref
// attributes and returns their classification inputs. The text filter runs
// in-page so it sees rendered text, not source markup.
func locateScript(selector, text string) string {
	return fmt.Sprintf(`(() => {
	let nodes;
	try { nodes = Array.from(document.querySelectorAll(%s)); }
	catch (e) { return { error: String(e) }; }
	const needle = %s.toLowerCase();
	const matches = [];
	for (const el of nodes) {
		if (needle) {
			const labels = el.labels ? Array.from(el.labels).map(l => l.innerText || '').join(' ') : '';
			const hay = [
				el.innerText || '', el.value || '', labels,
				el.getAttribute('aria-label') || '', el.getAttribute('placeholder') || '',
				el.getAttribute('name') || '', el.id || '', el.title || ''
			].join(' ').toLowerCase();
			if (!hay.includes(needle)) continue;
		}
		let ref = el.getAttribute('data-aux-ref');
		if (!ref) {
			window.__auxRefSeq = (window.__auxRefSeq || 0) + 1;
			ref = 'aux-' + window.__auxRefSeq;
			el.setAttribute('data-aux-ref', ref);
		}
		const style = window.getComputedStyle(el);
		const rect = el.getBoundingClientRect();
		matches.push({
			ref: ref,
			tag: el.tagName.toLowerCase(),
			type: el.getAttribute('type') || '',
			role: el.getAttribute('role') || '',
			visible: rect.width > 0 && rect.height > 0 && style.display !== 'none' && style.visibility !== 'hidden',
			enabled: !(el.disabled || el.closest('fieldset[disabled]'))
		});
	}
	return { matches: matches };
})()`, jsString(selector), jsString(text))
}

// probeScript checks the ref still resolves and whether it is disabled.
func probeScript(id string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return { ok: false };
	return { ok: true, disabled: !!(el.disabled || el.closest('fieldset[disabled]')) };
})()`, jsString(refSelector(id)))
}

// readScript resolves an attribute read. Boolean DOM properties win over
// their attributes so toggled state (checked, disabled) reads live.
func readScript(id, attribute string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return { stale: true };
	const attr = %s;
	if (attr === 'tag') {
		return { ok: true, value: el.tagName.toLowerCase() };
	}
	if (attr === 'text') {
		return { ok: true, value: (el.innerText || el.textContent || '').replace(/\s+/g, ' ').trim() };
	}
	if (attr === 'value') {
		if (el.tagName === 'SELECT') {
			const o = el.options[el.selectedIndex];
			return { ok: true, value: o ? o.value : '' };
		}
		if ('value' in el) return { ok: true, value: String(el.value == null ? '' : el.value) };
		return { ok: false, value: '' };
	}
	if (typeof el[attr] === 'boolean') {
		return el[attr] ? { ok: true, value: 'true' } : { ok: false, value: '' };
	}
	const v = el.getAttribute(attr);
	if (v === null) return { ok: false, value: '' };
	return { ok: true, value: v };
})()`, jsString(refSelector(id)), jsString(attribute))
}

// clearScript empties a text control and fires the framework events.
func clearScript(id string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return { stale: true };
	const tag = el.tagName;
	if (tag === 'INPUT') {
		const t = (el.getAttribute('type') || 'text').toLowerCase();
		if (['checkbox','radio','submit','button','reset','image','file','hidden'].includes(t)) {
			return { error: 'input type ' + t + ' does not accept text' };
		}
		el.value = '';
	} else if (tag === 'TEXTAREA') {
		el.value = '';
	} else if (el.isContentEditable) {
		el.textContent = '';
	} else {
		return { error: 'element does not accept text' };
	}
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return { ok: true };
})()`, jsString(refSelector(id)))
}

// selectScript picks an option by value, falling back to its visible label,
// and fires change events the way a user selection would.
func selectScript(id, value string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return { stale: true };
	if (el.tagName !== 'SELECT') return { error: 'element is not a select' };
	const want = %s;
	const opts = Array.from(el.options);
	let idx = opts.findIndex(o => o.value === want);
	if (idx < 0) {
		const lowered = want.trim().toLowerCase();
		idx = opts.findIndex(o => (o.label || o.text || '').trim().toLowerCase() === lowered);
	}
	if (idx < 0) return { missing: true };
	el.selectedIndex = idx;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return { ok: true };
})()`, jsString(refSelector(id)), jsString(value))
}

// hoverScript dispatches the mouseover pair; CSS :hover itself cannot be
// forced from script, but JS listeners fire.
func hoverScript(id string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return { stale: true };
	el.dispatchEvent(new MouseEvent('mouseover', { bubbles: true }));
	el.dispatchEvent(new MouseEvent('mouseenter'));
	return { ok: true };
})()`, jsString(refSelector(id)))
}
