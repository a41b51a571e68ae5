// Package submit types a prompt into the chat composer and sends it.
package submit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/chatpilot/internal/automation"
	"github.com/shehryarbajwa/chatpilot/internal/session"
)

// Composer locates the prompt input and its send control
type Composer struct {
	Input string `yaml:"input" json:"input"`
	Send  string `yaml:"send" json:"send"`
}

// DefaultComposer matches the hosted chat's composer
func DefaultComposer() Composer {
	return Composer{
		Input: "#prompt-textarea, [contenteditable='true'][id*='prompt'], textarea",
		Send:  "[data-testid='send-button'], button[aria-label*='Send']",
	}
}

// WithDefaults fills empty selectors from DefaultComposer
func (c Composer) WithDefaults() Composer {
	d := DefaultComposer()
	if c.Input == "" {
		c.Input = d.Input
	}
	if c.Send == "" {
		c.Send = d.Send
	}
	return c
}

const (
	defaultAttempts = 20
	defaultWait     = 250 * time.Millisecond
)

// Submitter implements session.Submitter against the DOM
type Submitter struct {
	sel      Composer
	attempts int
	wait     time.Duration
	log      *zap.Logger
}

var _ session.Submitter = (*Submitter)(nil)

// New creates a submitter
func New(sel Composer, log *zap.Logger) *Submitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Submitter{sel: sel.WithDefaults(), attempts: defaultAttempts, wait: defaultWait, log: log}
}

type step struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

// Submit fills the composer, then clicks send once the control enables
func (s *Submitter) Submit(ctx context.Context, page session.Page, prompt string) error {
	var filled step
	if err := s.run(ctx, page, fillScript, fillArgs{Selector: s.sel.Input, Text: prompt}, &filled); err != nil {
		return err
	}
	if !filled.OK {
		return &automation.Error{
			Stage:   automation.StageSubmit,
			Message: "composer not found",
			Details: map[string]string{"reason": filled.Reason},
		}
	}

	var last step
	for i := 0; i < s.attempts; i++ {
		if err := s.run(ctx, page, sendScript, sendArgs{Selector: s.sel.Send}, &last); err != nil {
			return err
		}
		if last.OK {
			return nil
		}
		s.log.Debug("Send control not ready", zap.String("reason", last.Reason), zap.Int("attempt", i+1))
		select {
		case <-ctx.Done():
			return automation.Errorf(automation.StageSubmit, ctx.Err(), "cancelled waiting for send control")
		case <-time.After(s.wait):
		}
	}
	return &automation.Error{
		Stage:   automation.StageSubmit,
		Message: "send control never became clickable",
		Details: map[string]string{"reason": last.Reason},
	}
}

func (s *Submitter) run(ctx context.Context, page session.Page, script string, args any, out *step) error {
	expr, err := automation.Invoke(script, args)
	if err != nil {
		return automation.Errorf(automation.StageSubmit, err, "build script")
	}
	return automation.EvaluateInto(ctx, page, expr, out)
}
