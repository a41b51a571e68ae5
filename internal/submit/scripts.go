package submit

type fillArgs struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

type sendArgs struct {
	Selector string `json:"selector"`
}

// fillScript writes text into a textarea or a contenteditable composer and
// fires the input events the page listens for.
const fillScript = `function (o) {
  const el = document.querySelector(o.selector);
  if (!el) return { ok: false, reason: 'missing' };
  el.focus();
  if (el instanceof HTMLTextAreaElement || el instanceof HTMLInputElement) {
    const proto = el instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
    const setter = Object.getOwnPropertyDescriptor(proto, 'value').set;
    setter.call(el, o.text);
    el.dispatchEvent(new Event('input', { bubbles: true }));
    el.dispatchEvent(new Event('change', { bubbles: true }));
    return { ok: true, reason: '' };
  }
  if (el.isContentEditable) {
    const range = document.createRange();
    range.selectNodeContents(el);
    const sel = window.getSelection();
    sel.removeAllRanges();
    sel.addRange(range);
    if (!document.execCommand('insertText', false, o.text)) {
      el.textContent = o.text;
    }
    el.dispatchEvent(new InputEvent('input', { bubbles: true, data: o.text, inputType: 'insertText' }));
    return { ok: true, reason: '' };
  }
  return { ok: false, reason: 'not-editable' };
}`

const sendScript = `function (o) {
  const btn = document.querySelector(o.selector);
  if (!btn) return { ok: false, reason: 'missing' };
  if (btn.disabled || btn.getAttribute('aria-disabled') === 'true') return { ok: false, reason: 'disabled' };
  btn.click();
  return { ok: true, reason: '' };
}`
