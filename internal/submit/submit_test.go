package submit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/chatpilot/internal/automation"
	"github.com/shehryarbajwa/chatpilot/pkg/models"
)

type fakePage struct {
	fill      string
	sends     []string
	err       error
	exprs     []string
	sendCalls int
}

func (p *fakePage) Evaluate(_ context.Context, expr string) (json.RawMessage, error) {
	p.exprs = append(p.exprs, expr)
	if p.err != nil {
		return nil, p.err
	}
	if strings.Contains(expr, "execCommand") {
		return json.RawMessage(p.fill), nil
	}
	i := p.sendCalls
	p.sendCalls++
	if i >= len(p.sends) {
		i = len(p.sends) - 1
	}
	return json.RawMessage(p.sends[i]), nil
}

func (p *fakePage) SetCookie(context.Context, string, models.CookieRecord) error { return nil }
func (p *fakePage) Navigate(context.Context, string) error                      { return nil }
func (p *fakePage) Close() error                                                { return nil }

const (
	ok       = `{"ok":true,"reason":""}`
	disabled = `{"ok":false,"reason":"disabled"}`
)

func newSubmitter() *Submitter {
	s := New(Composer{}, nil)
	s.wait = time.Millisecond
	s.attempts = 3
	return s
}

func TestSubmitWaitsForSendControl(t *testing.T) {
	page := &fakePage{fill: ok, sends: []string{disabled, ok}}
	require.NoError(t, newSubmitter().Submit(context.Background(), page, `say "hi"`))
	assert.Equal(t, 2, page.sendCalls)
	assert.Contains(t, page.exprs[0], `"text":"say \"hi\""`)
	assert.Contains(t, page.exprs[0], "#prompt-textarea")
}

func TestSubmitMissingComposer(t *testing.T) {
	page := &fakePage{fill: `{"ok":false,"reason":"missing"}`}
	err := newSubmitter().Submit(context.Background(), page, "hi")

	var ae *automation.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, automation.StageSubmit, ae.Stage)
	assert.Equal(t, "missing", ae.Details["reason"])
	assert.Zero(t, page.sendCalls)
}

func TestSubmitGivesUpOnDisabledControl(t *testing.T) {
	page := &fakePage{fill: ok, sends: []string{disabled}}
	err := newSubmitter().Submit(context.Background(), page, "hi")

	var ae *automation.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "disabled", ae.Details["reason"])
	assert.Equal(t, 3, page.sendCalls)
}

func TestSubmitPassesTransportErrorsThrough(t *testing.T) {
	lost := automation.Errorf(automation.StageConnectionLost, errors.New("eof"), "socket closed")
	err := newSubmitter().Submit(context.Background(), &fakePage{err: lost}, "hi")
	assert.True(t, automation.IsConnectionLost(err))
}

func TestComposerDefaults(t *testing.T) {
	c := Composer{Send: "#go"}.WithDefaults()
	assert.Equal(t, "#go", c.Send)
	assert.Equal(t, DefaultComposer().Input, c.Input)
}
