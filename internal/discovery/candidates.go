package discovery

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Element is one raw DOM finding returned by the page scan
type Element struct {
	Kind          string  `json:"kind"` // img, background, link
	Src           string  `json:"src,omitempty"`
	Srcset        string  `json:"srcset,omitempty"`
	Style         string  `json:"style,omitempty"`
	Href          string  `json:"href,omitempty"`
	DataHref      string  `json:"dataHref,omitempty"`
	DataURL       string  `json:"dataUrl,omitempty"`
	Label         string  `json:"label,omitempty"`
	Width         float64 `json:"width,omitempty"`
	Height        float64 `json:"height,omitempty"`
	NaturalWidth  float64 `json:"naturalWidth,omitempty"`
	NaturalHeight float64 `json:"naturalHeight,omitempty"`
}

// Source names the discovery path a candidate came from
type Source string

const (
	SourceImage      Source = "image"
	SourceSrcset     Source = "srcset"
	SourceBackground Source = "background"
	SourceLink       Source = "link"
)

// Candidate is a normalized asset locator with the evidence used to score it
type Candidate struct {
	URL           string
	Label         string
	Source        Source
	Width         float64
	Height        float64
	NaturalWidth  float64
	NaturalHeight float64
	// HasBox is false for links, which carry no rendered image box.
	HasBox bool
	Order  int
}

// Expand turns raw elements into candidates in discovery order. Relative
// locators are resolved against base.
func Expand(elements []Element, base string) []Candidate {
	baseURL, _ := url.Parse(base)
	var out []Candidate
	add := func(raw string, src Source, el Element, box bool) {
		loc := resolveURL(baseURL, raw)
		if loc == "" {
			return
		}
		c := Candidate{URL: loc, Label: el.Label, Source: src, HasBox: box, Order: len(out)}
		if box {
			c.Width, c.Height = el.Width, el.Height
			c.NaturalWidth, c.NaturalHeight = el.NaturalWidth, el.NaturalHeight
		}
		out = append(out, c)
	}

	for _, el := range elements {
		switch el.Kind {
		case "img":
			add(el.Src, SourceImage, el, true)
			if best := BestSrcsetEntry(el.Srcset); best != "" {
				add(best, SourceSrcset, el, true)
			}
		case "background":
			for _, u := range BackgroundURLs(el.Style) {
				add(u, SourceBackground, el, true)
			}
		case "link":
			add(el.Href, SourceLink, el, false)
			add(el.DataHref, SourceLink, el, false)
			add(el.DataURL, SourceLink, el, false)
		}
	}
	return out
}

func resolveURL(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(strings.ToLower(raw), "javascript:") {
		return ""
	}
	if strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, "blob:") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base != nil && !u.IsAbs() {
		u = base.ResolveReference(u)
	}
	return u.String()
}

// BestSrcsetEntry returns the srcset URL with the highest weight. A width
// descriptor counts as is, a density descriptor is multiplied by 1000, and
// an entry without a descriptor counts as 1x.
func BestSrcsetEntry(srcset string) string {
	best, bestWeight := "", -1.0
	for _, part := range splitSrcset(srcset) {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		weight := 1000.0
		if len(fields) > 1 {
			d := strings.ToLower(fields[len(fields)-1])
			n, err := strconv.ParseFloat(d[:len(d)-1], 64)
			switch {
			case err != nil:
				continue
			case strings.HasSuffix(d, "w"):
				weight = n
			case strings.HasSuffix(d, "x"):
				weight = n * 1000
			default:
				continue
			}
		}
		if weight > bestWeight {
			best, bestWeight = fields[0], weight
		}
	}
	return best
}

// splitSrcset splits on the commas that separate entries, leaving commas
// inside data: URLs alone
func splitSrcset(srcset string) []string {
	var parts []string
	start := 0
	inURL := true
	for i := 0; i < len(srcset); i++ {
		switch srcset[i] {
		case ' ', '\t', '\n':
			if i > start && strings.TrimSpace(srcset[start:i]) != "" {
				inURL = false
			}
		case ',':
			if !inURL {
				parts = append(parts, srcset[start:i])
				start = i + 1
				inURL = true
			}
		}
	}
	if tail := strings.TrimSpace(srcset[start:]); tail != "" {
		parts = append(parts, tail)
	}
	return parts
}

var cssURL = regexp.MustCompile(`url\(\s*(?:"([^"]*)"|'([^']*)'|([^)\s]*))\s*\)`)

// BackgroundURLs extracts every url(...) from a CSS background-image value
func BackgroundURLs(style string) []string {
	var out []string
	for _, m := range cssURL.FindAllStringSubmatch(style, -1) {
		for _, g := range m[1:] {
			if g != "" {
				out = append(out, g)
				break
			}
		}
	}
	return out
}
