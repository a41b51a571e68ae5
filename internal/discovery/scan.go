package discovery

import (
	"context"

	"github.com/shehryarbajwa/chatpilot/internal/automation"
)

// Selectors locate conversation structure in the chat DOM
type Selectors struct {
	Turn         string `yaml:"turn" json:"turnSelector"`
	RoleAttr     string `yaml:"role_attr" json:"roleAttr"`
	TurnTypeAttr string `yaml:"turn_type_attr" json:"turnTypeAttr"`
	Text         string `yaml:"text" json:"textSelector"`
}

// DefaultSelectors match the hosted chat's current markup
func DefaultSelectors() Selectors {
	return Selectors{
		Turn:         `[data-testid^="conversation-turn-"], article[data-turn]`,
		RoleAttr:     "data-message-author-role",
		TurnTypeAttr: "data-turn",
		Text:         ".markdown, .whitespace-pre-wrap",
	}
}

// WithDefaults fills empty selectors from DefaultSelectors
func (s Selectors) WithDefaults() Selectors {
	d := DefaultSelectors()
	if s.Turn == "" {
		s.Turn = d.Turn
	}
	if s.RoleAttr == "" {
		s.RoleAttr = d.RoleAttr
	}
	if s.TurnTypeAttr == "" {
		s.TurnTypeAttr = d.TurnTypeAttr
	}
	if s.Text == "" {
		s.Text = d.Text
	}
	return s
}

// Scan is the raw page read the discovery pipeline runs on
type Scan struct {
	BaseURL   string `json:"baseUrl"`
	TurnCount int    `json:"turnCount"`
	Turns     []Turn `json:"turns"`
	// Document holds elements from the whole page, filled only when asked
	// for the document fallback.
	Document []Element `json:"document,omitempty"`
}

// ScanRequest selects what the scan collects beyond turn markers
type ScanRequest struct {
	MinTurnIndex int  `json:"minTurnIndex"`
	Elements     bool `json:"elements"`
	Text         bool `json:"text"`
	Document     bool `json:"document"`
}

type scanArgs struct {
	Selectors
	ScanRequest
}

// scanScript reads turn markers for every turn and, for turns at or after
// minTurnIndex, their text and asset elements.
const scanScript = `function (o) {
  const collect = (root) => {
    const out = [];
    const box = (el) => { const r = el.getBoundingClientRect(); return { width: r.width, height: r.height }; };
    const label = (el) => (el.getAttribute('aria-label') || el.getAttribute('alt') || el.getAttribute('title') || '').trim();
    root.querySelectorAll('img').forEach((img) => {
      const b = box(img);
      out.push({ kind: 'img', src: img.currentSrc || img.getAttribute('src') || '', srcset: img.getAttribute('srcset') || '',
        label: label(img) || label(img.closest('[aria-label]') || img), width: b.width, height: b.height,
        naturalWidth: img.naturalWidth || 0, naturalHeight: img.naturalHeight || 0 });
    });
    root.querySelectorAll('*').forEach((el) => {
      const bg = getComputedStyle(el).backgroundImage;
      if (!bg || bg === 'none' || bg.indexOf('url(') < 0) return;
      const b = box(el);
      out.push({ kind: 'background', style: bg, label: label(el), width: b.width, height: b.height });
    });
    root.querySelectorAll('a[href], [data-href], [data-url]').forEach((a) => {
      out.push({ kind: 'link', href: a.getAttribute('href') || '', dataHref: a.getAttribute('data-href') || '',
        dataUrl: a.getAttribute('data-url') || '', label: (a.innerText || label(a)).trim() });
    });
    return out;
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
    };
    if (o.minTurnIndex >= 0 && index < o.minTurnIndex) return t;
    if (o.text) {
      const parts = Array.from(node.querySelectorAll(o.textSelector)).map((el) => el.innerText || '');
      t.text = (parts.length ? parts.join('\n') : node.innerText || '').trim();
    }
    if (o.elements) t.elements = collect(node);
    return t;
  });
  const res = { baseUrl: document.baseURI, turnCount: nodes.length, turns };
  if (o.document) res.document = collect(document);
  return res;
}`

// RunScan evaluates the scan script and decodes its result
func RunScan(ctx context.Context, ev automation.Evaluator, sel Selectors, req ScanRequest) (Scan, error) {
	expr, err := automation.Invoke(scanScript, scanArgs{Selectors: sel.WithDefaults(), ScanRequest: req})
	if err != nil {
		return Scan{}, err
	}
	var scan Scan
	if err := automation.EvaluateInto(ctx, ev, expr, &scan); err != nil {
		return Scan{}, err
	}
	return scan, nil
}
