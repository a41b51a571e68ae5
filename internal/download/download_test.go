package download

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/chatpilot/internal/automation"
	"github.com/shehryarbajwa/chatpilot/internal/discovery"
)

var (
	idxArg  = regexp.MustCompile(`"idx":(-?\d+)`)
	turnArg = regexp.MustCompile(`"turn":(-?\d+)`)
)

// fakePage answers the listing script with a canned page and records which
// image the activation script was asked to click
type fakePage struct {
	list      listing
	clickable bool
	listErr   error
	activated []int
	turns     []int
}

func (f *fakePage) Evaluate(_ context.Context, expr string) (json.RawMessage, error) {
	if strings.Contains(expr, "tagged.set") {
		if f.listErr != nil {
			return nil, f.listErr
		}
		return json.Marshal(f.list)
	}
	m := idxArg.FindStringSubmatch(expr)
	if m == nil {
		return nil, errors.New("unexpected expression")
	}
	idx, _ := strconv.Atoi(m[1])
	f.activated = append(f.activated, idx)
	if m := turnArg.FindStringSubmatch(expr); m != nil {
		turn, _ := strconv.Atoi(m[1])
		f.turns = append(f.turns, turn)
	}
	return json.Marshal(activation{Clicked: f.clickable, Reason: "no-control"})
}

func img(idx int, url string) Image {
	return Image{Idx: idx, URL: url, Visible: true, Opacity: 1}
}

func assistantTurn(index int, images ...Image) turnImages {
	return turnImages{Turn: discovery.Turn{Index: index, Role: "assistant"}, Images: images}
}

func userTurn(index int) turnImages {
	return turnImages{Turn: discovery.Turn{Index: index, Role: "user"}}
}

func TestTriggerClicksMostRecentImage(t *testing.T) {
	page := &fakePage{clickable: true, list: listing{Turns: []turnImages{
		userTurn(0),
		assistantTurn(1, img(0, "https://chat.example/backend-api/estuary/content?id=file_a"),
			img(1, "https://chat.example/backend-api/estuary/content?id=file_b")),
	}}}

	out := New(discovery.Selectors{}, nil).Trigger(context.Background(), page, Request{MinTurnIndex: 1})
	assert.Equal(t, KindClicked, out.Kind)
	assert.True(t, out.Clicked())
	assert.NoError(t, out.Err)
	assert.Equal(t, []int{1}, page.activated)
	assert.Contains(t, out.Target, "file_b")
}

func TestTriggerSkipsPlaceholders(t *testing.T) {
	blurred := img(1, "https://chat.example/b.png")
	blurred.Blurred = true
	faded := img(2, "https://chat.example/c.png")
	faded.Opacity = 0.3
	page := &fakePage{clickable: true, list: listing{Turns: []turnImages{
		assistantTurn(0, img(0, "https://chat.example/a.png"), blurred, faded),
	}}}

	out := New(discovery.Selectors{}, nil).Trigger(context.Background(), page, Request{MinTurnIndex: 0})
	assert.Equal(t, KindClicked, out.Kind)
	assert.Equal(t, []int{0}, page.activated)
}

func TestTriggerPreferredMatchesByDerivedKey(t *testing.T) {
	page := &fakePage{clickable: true, list: listing{Turns: []turnImages{
		assistantTurn(0,
			img(0, "https://chat.example/backend-api/estuary/content?id=file_a&sig=111"),
			img(1, "https://chat.example/backend-api/estuary/content?id=file_b&sig=222")),
	}}}

	out := New(discovery.Selectors{}, nil).Trigger(context.Background(), page, Request{
		Preferred:    "https://chat.example/backend-api/estuary/content?id=file_a&sig=999&ts=1",
		MinTurnIndex: 0,
	})
	assert.Equal(t, KindClicked, out.Kind)
	assert.Equal(t, []int{0}, page.activated)
}

func TestTriggerPreferredNotFoundNeverSubstitutes(t *testing.T) {
	page := &fakePage{clickable: true, list: listing{Turns: []turnImages{
		assistantTurn(0, img(0, "https://chat.example/backend-api/estuary/content?id=file_a")),
	}}}

	out := New(discovery.Selectors{}, nil).Trigger(context.Background(), page, Request{
		Preferred:    "https://chat.example/backend-api/estuary/content?id=file_z",
		MinTurnIndex: 0,
	})
	assert.Equal(t, KindPreferredNotFound, out.Kind)
	assert.Empty(t, page.activated, "nothing may be clicked")
}

func TestTriggerNoScope(t *testing.T) {
	page := &fakePage{list: listing{Turns: []turnImages{userTurn(0), assistantTurn(1, img(0, "https://chat.example/a.png"))}}}

	out := New(discovery.Selectors{}, nil).Trigger(context.Background(), page, Request{MinTurnIndex: 2})
	assert.Equal(t, KindNoScope, out.Kind)
	assert.Empty(t, page.activated)
}

func TestTriggerNoControl(t *testing.T) {
	page := &fakePage{list: listing{Turns: []turnImages{assistantTurn(0, img(0, "https://chat.example/a.png"))}}}

	out := New(discovery.Selectors{}, nil).Trigger(context.Background(), page, Request{MinTurnIndex: 0})
	assert.Equal(t, KindNoControl, out.Kind)
	assert.False(t, out.Clicked())
}

func TestTriggerWithoutImagesStaysInScope(t *testing.T) {
	tests := []struct {
		name    string
		clicked bool
		kind    Kind
	}{
		{name: "control in turn", clicked: true, kind: KindClicked},
		{name: "no control in turn", clicked: false, kind: KindNoControl},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := &fakePage{clickable: tt.clicked, list: listing{Turns: []turnImages{
				assistantTurn(0, img(0, "https://chat.example/old.png")),
				userTurn(1),
				assistantTurn(2),
			}}}

			out := New(discovery.Selectors{Turn: "article"}, nil).Trigger(context.Background(), page, Request{MinTurnIndex: 2})
			assert.Equal(t, tt.kind, out.Kind)
			assert.Equal(t, []int{-1}, page.activated)
			assert.Equal(t, []int{2}, page.turns, "search is bounded to the selected turn")
		})
	}
	assert.NotContains(t, activateScript, "pick(document)")
}

func TestTriggerDocumentFallback(t *testing.T) {
	page := &fakePage{clickable: true, list: listing{Document: []Image{img(4, "blob:https://chat.example/x")}}}

	out := New(discovery.Selectors{}, nil).Trigger(context.Background(), page, Request{MinTurnIndex: discovery.NoMinTurn})
	assert.Equal(t, KindClicked, out.Kind)
	assert.Equal(t, []int{4}, page.activated)
	assert.Equal(t, []int{-1}, page.turns)
}

func TestTriggerReportsTransportErrors(t *testing.T) {
	lost := automation.Errorf(automation.StageConnectionLost, errors.New("eof"), "browser connection lost")
	page := &fakePage{listErr: lost}

	var out Outcome
	require.NotPanics(t, func() {
		out = New(discovery.Selectors{}, nil).Trigger(context.Background(), page, Request{})
	})
	assert.Empty(t, out.Kind)
	assert.True(t, automation.IsConnectionLost(out.Err))
}

func TestDerivedKey(t *testing.T) {
	tests := map[string]string{
		"https://x/backend-api/estuary/content?id=file_1&sig=a": "file_1",
		"https://x/images/cat.png?v=2":                          "/images/cat.png",
		"blob:https://x/123":                                    "blob:https://x/123",
		"%zz":                                                   "%zz",
	}
	for in, want := range tests {
		assert.Equal(t, want, DerivedKey(in), in)
	}
}

func TestChoose(t *testing.T) {
	_, ok := Choose(nil, "")
	assert.False(t, ok)

	images := []Image{img(0, "https://x/a.png?v=1"), img(1, "https://x/b.png")}
	got, ok := Choose(images, "https://x/a.png?v=2")
	require.True(t, ok)
	assert.Equal(t, 0, got.Idx)
}
