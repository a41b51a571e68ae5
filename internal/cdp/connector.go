package cdp

import (
	"context"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/chatpilot/internal/automation"
	"github.com/shehryarbajwa/chatpilot/pkg/models"
)

// Connector attaches to an already running browser described by runtime
// metadata. It never launches one.
type Connector struct {
	log *zap.Logger

	// resolve turns an endpoint ("9222", "host:9222", "http://...") into the
	// browser websocket URL; swapped in tests.
	resolve func(endpoint string) (string, error)
}

// NewConnector creates a connector
func NewConnector(log *zap.Logger) *Connector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Connector{log: log, resolve: launcher.ResolveURL}
}

type targetInfo struct {
	TargetID string `json:"targetId"`
	Type     string `json:"type"`
	URL      string `json:"url"`
}

// Connect dials the browser and attaches to the recorded tab, or to the
// first page tab when none is recorded. The returned metadata reflects the
// live connection.
func (c *Connector) Connect(ctx context.Context, rt models.BrowserRuntimeMetadata) (*Page, models.BrowserRuntimeMetadata, error) {
	client, wsURL, err := c.dial(ctx, rt)
	if err != nil {
		return nil, rt, err
	}
	rt.WebSocketURL = wsURL

	var targets struct {
		TargetInfos []targetInfo `json:"targetInfos"`
	}
	if err := client.Call(ctx, "", proto.TargetGetTargets{}, &targets); err != nil {
		client.Close()
		return nil, rt, err
	}

	targetID := ""
	for _, t := range targets.TargetInfos {
		if t.Type != "page" {
			continue
		}
		if rt.TargetID == "" || t.TargetID == rt.TargetID {
			targetID = t.TargetID
			break
		}
	}
	if targetID == "" && rt.TargetID != "" {
		client.Close()
		return nil, rt, automation.Errorf(automation.StageConnect, nil, "tab %s is gone", rt.TargetID)
	}
	if targetID == "" {
		var created struct {
			TargetID string `json:"targetId"`
		}
		if err := client.Call(ctx, "", proto.TargetCreateTarget{URL: "about:blank"}, &created); err != nil {
			client.Close()
			return nil, rt, err
		}
		targetID = created.TargetID
	}

	var attached struct {
		SessionID string `json:"sessionId"`
	}
	err = client.Call(ctx, "", proto.TargetAttachToTarget{
		TargetID: proto.TargetTargetID(targetID),
		Flatten:  true,
	}, &attached)
	if err != nil {
		client.Close()
		return nil, rt, err
	}
	rt.TargetID = targetID

	c.log.Info("Attached to browser tab",
		zap.String("endpoint", rt.Endpoint),
		zap.String("target", targetID))
	return &Page{client: client, sessionID: attached.SessionID, targetID: targetID}, rt, nil
}

// dial prefers the recorded websocket URL and falls back to resolving the
// endpoint, which also covers a browser restarted on the same port
func (c *Connector) dial(ctx context.Context, rt models.BrowserRuntimeMetadata) (*Client, string, error) {
	if rt.WebSocketURL != "" {
		client, err := Dial(ctx, rt.WebSocketURL, c.log)
		if err == nil {
			return client, rt.WebSocketURL, nil
		}
		c.log.Debug("Recorded websocket URL unusable, resolving endpoint",
			zap.String("url", rt.WebSocketURL), zap.Error(err))
	}
	if rt.Endpoint == "" {
		return nil, "", automation.Errorf(automation.StageConnect, nil, "no browser endpoint configured")
	}
	wsURL, err := c.resolve(rt.Endpoint)
	if err != nil {
		return nil, "", automation.Errorf(automation.StageConnect, err, "resolve %s", rt.Endpoint)
	}
	client, err := Dial(ctx, wsURL, c.log)
	if err != nil {
		return nil, "", err
	}
	return client, wsURL, nil
}
