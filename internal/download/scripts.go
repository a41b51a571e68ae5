package download

import "github.com/shehryarbajwa/chatpilot/internal/discovery"

const idxAttr = "data-chatpilot-idx"

type listArgs struct {
	discovery.Selectors
	MinTurnIndex int    `json:"minTurnIndex"`
	IdxAttr      string `json:"idxAttr"`
}

type activateArgs struct {
	Idx          int    `json:"idx"`
	IdxAttr      string `json:"idxAttr"`
	Turn         int    `json:"turn"`
	TurnSelector string `json:"turnSelector"`
}

// listScript tags every image with a stable index and reports its
// visibility, grouped by conversation turn. Turns before minTurnIndex only
// carry their markers; the document list is filled only when no minimum
// was requested.
const listScript = `function (o) {
  let next = 0;
  const tagged = new Map();
  const describe = (img) => {
    if (tagged.has(img)) return tagged.get(img);
    const style = getComputedStyle(img);
    const opacity = Number.parseFloat(style.opacity || '1');
    const filter = (style.filter || '').toLowerCase();
    const rect = img.getBoundingClientRect();
    img.setAttribute(o.idxAttr, String(next));
    const d = {
      idx: next++,
      url: img.currentSrc || img.src || img.getAttribute('src') || img.getAttribute('data-src') || '',
      visible: style.display !== 'none' && style.visibility !== 'hidden' && rect.width > 0 && rect.height > 0,
      blurred: filter.includes('blur('),
      opacity: Number.isFinite(opacity) ? opacity : 1,
    };
    tagged.set(img, d);
    return d;
  };
  const nodes = Array.from(document.querySelectorAll(o.turnSelector));
  const turns = nodes.map((node, index) => {
    const nested = node.querySelector('[' + o.roleAttr + ']');
    const t = {
      index,
      role: node.getAttribute(o.roleAttr) || '',
      turnType: node.getAttribute(o.turnTypeAttr) || '',
      nestedRole: nested ? nested.getAttribute(o.roleAttr) || '' : '',
      testId: node.getAttribute('data-testid') || '',
      images: [],
    };
    if (o.minTurnIndex >= 0 && index < o.minTurnIndex) return t;
    t.images = Array.from(node.querySelectorAll('img')).map(describe);
    return t;
  });
  let doc = [];
  if (o.minTurnIndex < 0) {
    const root = document.querySelector('main') || document.body;
    doc = Array.from(root.querySelectorAll('img')).map(describe);
  }
  return { turns, document: doc };
}`

// activateScript reveals hover UI around the tagged image, finds the
// download control nearest to it and clicks it. The search never leaves
// the scope: the selected turn, or the main document region when turn < 0.
// idx < 0 searches the whole scope.
const activateScript = `function (o) {
  const SELECTOR = 'button[aria-label*="Download" i], button[aria-label*="Save" i], a[download], a[aria-label*="Download" i], [role="button"][aria-label*="Download" i]';
  const shown = (el) => {
    const s = getComputedStyle(el);
    return s.display !== 'none' && s.visibility !== 'hidden';
  };
  const hover = (el) => {
    if (!el) return;
    const r = el.getBoundingClientRect();
    const init = { bubbles: true, clientX: r.left + r.width / 2, clientY: r.top + r.height / 2 };
    el.dispatchEvent(new PointerEvent('pointerover', init));
    el.dispatchEvent(new PointerEvent('pointerenter', init));
    el.dispatchEvent(new MouseEvent('mouseover', init));
    el.dispatchEvent(new MouseEvent('mousemove', init));
  };
  const pick = (root) => {
    const found = Array.from(root.querySelectorAll(SELECTOR));
    return found.find(shown) || found[0] || null;
  };
  const root = o.turn >= 0
    ? document.querySelectorAll(o.turnSelector)[o.turn]
    : document.querySelector('main') || document.body;
  if (!root) return { clicked: false, reason: 'scope-detached' };
  let control = null;
  const img = o.idx >= 0 ? document.querySelector('img[' + o.idxAttr + '="' + o.idx + '"]') : null;
  if (o.idx >= 0 && !img) return { clicked: false, reason: 'target-detached' };
  if (img) {
    img.scrollIntoView({ block: 'center', inline: 'center' });
    const labelled = img.parentElement && img.parentElement.closest('[aria-label], [data-testid], figure');
    hover(img);
    hover(labelled);
    for (let el = img.parentElement; el && !control; el = el.parentElement) {
      control = pick(el);
      if (el === root || el.matches('article, [data-testid^="conversation-turn-"]')) break;
    }
  }
  if (!control) control = pick(root);
  if (!control) return { clicked: false, reason: 'no-control' };
  control.style.visibility = 'visible';
  control.style.opacity = '1';
  control.style.pointerEvents = 'auto';
  if (getComputedStyle(control).display === 'none') control.style.display = 'inline-flex';
  control.click();
  return { clicked: true };
}`
