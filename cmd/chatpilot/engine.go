package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/chatpilot/internal/cdp"
	"github.com/shehryarbajwa/chatpilot/internal/config"
	"github.com/shehryarbajwa/chatpilot/internal/cookies"
	"github.com/shehryarbajwa/chatpilot/internal/discovery"
	"github.com/shehryarbajwa/chatpilot/internal/download"
	"github.com/shehryarbajwa/chatpilot/internal/output"
	"github.com/shehryarbajwa/chatpilot/internal/poller"
	"github.com/shehryarbajwa/chatpilot/internal/session"
	"github.com/shehryarbajwa/chatpilot/internal/store"
	"github.com/shehryarbajwa/chatpilot/internal/submit"
	"github.com/shehryarbajwa/chatpilot/pkg/models"
)

func openStore(cfg *config.Config) (*store.Manager, error) {
	return store.NewManager(cfg.StateDir)
}

// newEngine wires the engine against a real browser
func newEngine(cfg *config.Config, log *zap.Logger) (*session.Engine, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	connector := cdp.NewConnector(log)
	disc := discovery.New(cfg.Selectors, discovery.DefaultRole, log)

	return session.NewEngine(session.Config{
		Store: st,
		Connector: session.ConnectFunc(func(ctx context.Context, rt models.BrowserRuntimeMetadata) (session.Page, models.BrowserRuntimeMetadata, error) {
			p, md, err := connector.Connect(ctx, rt)
			if err != nil {
				return nil, md, err
			}
			return p, md, nil
		}),
		Submitter:  submit.New(cfg.Composer, log),
		Cookies:    cookies.NewSynchronizer(log),
		Discoverer: disc,
		Poller: poller.New(poller.Options{
			Interval:      cfg.Poll.Interval,
			StableSamples: cfg.Poll.StableSamples,
		}, log),
		Trigger:       download.New(disc.Selectors(), log),
		Writer:        output.NewWriter(st, "", log),
		Estimator:     session.CharEstimator{},
		Notifier:      session.LogNotifier{Log: log},
		MaxConcurrent: cfg.Runs.MaxConcurrent,
		Logger:        log,
	})
}
