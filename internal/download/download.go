// Package download activates the on-page control that saves one generated
// image.
package download

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/chatpilot/internal/automation"
	"github.com/shehryarbajwa/chatpilot/internal/discovery"
)

// Kind tags how a trigger attempt ended
type Kind string

const (
	KindClicked           Kind = "clicked"
	KindNoScope           Kind = "no-scope"
	KindPreferredNotFound Kind = "preferred-image-not-found"
	KindNoControl         Kind = "no-control-found"
)

// MinOpacity is the opacity below which an image is a placeholder
const MinOpacity = 0.5

// Request describes which image to save
type Request struct {
	// Preferred is an asset locator to save; empty picks the most recent image.
	Preferred    string
	MinTurnIndex int
	Role         string
}

// Outcome is the tagged result of a trigger attempt. Err is set when the
// page could not be driven at all; Kind is then empty.
type Outcome struct {
	Kind   Kind
	Target string
	Err    error
}

// Clicked reports whether a download control was activated
func (o Outcome) Clicked() bool { return o.Kind == KindClicked }

// Image is one on-page image as listed by the candidate script
type Image struct {
	Idx     int     `json:"idx"`
	URL     string  `json:"url"`
	Visible bool    `json:"visible"`
	Blurred bool    `json:"blurred"`
	Opacity float64 `json:"opacity"`
}

// Placeholder reports whether the image is still a loading stand-in
func (i Image) Placeholder() bool {
	return !i.Visible || i.Blurred || i.Opacity < MinOpacity
}

type turnImages struct {
	discovery.Turn
	Images []Image `json:"images"`
}

type listing struct {
	Turns    []turnImages `json:"turns"`
	Document []Image      `json:"document"`
}

type activation struct {
	Clicked bool   `json:"clicked"`
	Reason  string `json:"reason"`
}

// Trigger finds and clicks download controls
type Trigger struct {
	sel discovery.Selectors
	log *zap.Logger
}

// New creates a trigger using the given conversation selectors
func New(sel discovery.Selectors, log *zap.Logger) *Trigger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Trigger{sel: sel.WithDefaults(), log: log}
}

// Trigger picks the target image and clicks its download control. It never
// returns an error; failures are reported in the outcome.
func (t *Trigger) Trigger(ctx context.Context, ev automation.Evaluator, req Request) Outcome {
	role := req.Role
	if role == "" {
		role = discovery.DefaultRole
	}

	expr, err := automation.Invoke(listScript, listArgs{Selectors: t.sel, MinTurnIndex: req.MinTurnIndex, IdxAttr: idxAttr})
	if err != nil {
		return Outcome{Err: err}
	}
	var list listing
	if err := automation.EvaluateInto(ctx, ev, expr, &list); err != nil {
		return Outcome{Err: err}
	}

	turns := make([]discovery.Turn, len(list.Turns))
	for i, ti := range list.Turns {
		turns[i] = ti.Turn
	}
	scope, ok := discovery.SelectScope(turns, role, req.MinTurnIndex)
	if !ok {
		return Outcome{Kind: KindNoScope}
	}
	images := list.Document
	if !scope.Document {
		for _, ti := range list.Turns {
			if ti.Index == scope.TurnIndex {
				images = ti.Images
			}
		}
	}

	target, found := Choose(Visible(images), req.Preferred)
	if req.Preferred != "" && !found {
		t.log.Warn("Preferred image not on page", zap.String("preferred", req.Preferred))
		return Outcome{Kind: KindPreferredNotFound}
	}
	idx := -1
	if found {
		idx = target.Idx
	}

	expr, err = automation.Invoke(activateScript, activateArgs{
		Idx:          idx,
		IdxAttr:      idxAttr,
		Turn:         scope.TurnIndex,
		TurnSelector: t.sel.Turn,
	})
	if err != nil {
		return Outcome{Err: err, Target: target.URL}
	}
	var act activation
	if err := automation.EvaluateInto(ctx, ev, expr, &act); err != nil {
		return Outcome{Err: err, Target: target.URL}
	}
	if !act.Clicked {
		t.log.Info("Download control not clicked", zap.String("reason", act.Reason))
		return Outcome{Kind: KindNoControl, Target: target.URL}
	}
	return Outcome{Kind: KindClicked, Target: target.URL}
}

// Visible drops placeholder images, keeping rendered order
func Visible(images []Image) []Image {
	out := make([]Image, 0, len(images))
	for _, img := range images {
		if !img.Placeholder() {
			out = append(out, img)
		}
	}
	return out
}

// Choose returns the image matching preferred by derived key, or the most
// recently rendered image when preferred is empty. It never substitutes
// another image for a preferred one.
func Choose(images []Image, preferred string) (Image, bool) {
	if preferred != "" {
		key := DerivedKey(preferred)
		for _, img := range images {
			if img.URL == preferred || DerivedKey(img.URL) == key {
				return img, true
			}
		}
		return Image{}, false
	}
	if len(images) == 0 {
		return Image{}, false
	}
	return images[len(images)-1], true
}

// DerivedKey identifies an asset across URL variants: the id query
// parameter when present, else the path, else the raw locator
func DerivedKey(locator string) string {
	u, err := url.Parse(locator)
	if err != nil {
		return locator
	}
	if id := u.Query().Get("id"); id != "" {
		return id
	}
	if u.Path != "" {
		return u.Path
	}
	return locator
}
