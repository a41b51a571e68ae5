package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"github.com/shehryarbajwa/chatpilot/internal/automation"
	"github.com/shehryarbajwa/chatpilot/pkg/models"
)

// Page is one attached tab. It implements the Evaluator, CookieSetter and
// Navigator capabilities the engine consumes.
type Page struct {
	client    *Client
	sessionID string
	targetID  string

	// LoadPollInterval paces the readyState checks after navigation.
	LoadPollInterval time.Duration
}

// TargetID returns the CDP target id of the tab
func (p *Page) TargetID() string { return p.targetID }

type remoteObject struct {
	Type        string          `json:"type"`
	Subtype     string          `json:"subtype,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
	Description string          `json:"description,omitempty"`
}

type evaluateResult struct {
	Result           remoteObject `json:"result"`
	ExceptionDetails *struct {
		Text      string        `json:"text"`
		Exception *remoteObject `json:"exception,omitempty"`
	} `json:"exceptionDetails,omitempty"`
}

// Evaluate runs expression in the page and returns its JSON value
func (p *Page) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	var res evaluateResult
	err := p.client.Call(ctx, p.sessionID, proto.RuntimeEvaluate{
		Expression:    expression,
		ReturnByValue: true,
		AwaitPromise:  true,
	}, &res)
	if err != nil {
		if automation.IsConnectionLost(err) {
			return nil, err
		}
		return nil, automation.Errorf(automation.StageEvaluate, err, "Runtime.evaluate")
	}
	if d := res.ExceptionDetails; d != nil {
		msg := d.Text
		if d.Exception != nil && d.Exception.Description != "" {
			msg = d.Exception.Description
		}
		return nil, automation.Errorf(automation.StageEvaluate, nil, "script threw: %s", msg)
	}
	if len(res.Result.Value) == 0 {
		return json.RawMessage("null"), nil
	}
	return res.Result.Value, nil
}

// SetCookie installs one cookie for origin
func (p *Page) SetCookie(ctx context.Context, origin string, c models.CookieRecord) error {
	var res struct {
		Success *bool `json:"success,omitempty"`
	}
	err := p.client.Call(ctx, p.sessionID, proto.NetworkSetCookie{
		Name:     c.Name,
		Value:    c.Value,
		URL:      origin,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
	}, &res)
	if err != nil {
		return err
	}
	if res.Success != nil && !*res.Success {
		return fmt.Errorf("browser rejected cookie %q", c.Name)
	}
	return nil
}

// navMarkKey names the window property that tags the outgoing document
const navMarkKey = "__chatpilotNavigation"

type navArgs struct {
	Key   string `json:"key"`
	Token string `json:"token"`
}

const markScript = `function (o) { window[o.key] = o.token; return true; }`

// loadStateScript reports readiness of the current document; fresh is
// false while the tagged outgoing document is still in place.
const loadStateScript = `function (o) {
  return { state: document.readyState, fresh: window[o.key] !== o.token };
}`

type loadState struct {
	State string `json:"state"`
	Fresh bool   `json:"fresh"`
}

// Navigate loads url and waits until the new document reports complete or
// ctx ends. The outgoing document is tagged first so its own complete state
// is never mistaken for the load finishing.
func (p *Page) Navigate(ctx context.Context, url string) error {
	args := navArgs{Key: navMarkKey, Token: uuid.NewString()}
	if err := p.run(ctx, markScript, args, new(bool)); automation.IsConnectionLost(err) {
		return err
	}

	var res struct {
		LoaderID  string `json:"loaderId,omitempty"`
		ErrorText string `json:"errorText,omitempty"`
	}
	if err := p.client.Call(ctx, p.sessionID, proto.PageNavigate{URL: url}, &res); err != nil {
		if automation.IsConnectionLost(err) {
			return err
		}
		return automation.Errorf(automation.StageNavigate, err, "navigate to %s", url)
	}
	if res.ErrorText != "" {
		return automation.Errorf(automation.StageNavigate, nil, "navigate to %s: %s", url, res.ErrorText)
	}
	// no loader means a same-document navigation; nothing will reload
	if res.LoaderID == "" {
		return nil
	}

	interval := p.LoadPollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		var st loadState
		err := p.run(ctx, loadStateScript, args, &st)
		if err == nil && st.Fresh && st.State == "complete" {
			return nil
		}
		if automation.IsConnectionLost(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return automation.Errorf(automation.StageNavigate, ctx.Err(), "page load for %s", url)
		case <-ticker.C:
		}
	}
}

func (p *Page) run(ctx context.Context, fn string, args, out any) error {
	expr, err := automation.Invoke(fn, args)
	if err != nil {
		return err
	}
	return automation.EvaluateInto(ctx, p, expr, out)
}

// Close detaches from the tab and closes the socket
func (p *Page) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = p.client.Call(ctx, "", proto.TargetDetachFromTarget{SessionID: proto.TargetSessionID(p.sessionID)}, nil)
	return p.client.Close()
}
