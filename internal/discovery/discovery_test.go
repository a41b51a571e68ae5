package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type scanEvaluator struct {
	scan  Scan
	err   error
	exprs []string
}

func (s *scanEvaluator) Evaluate(_ context.Context, expr string) (json.RawMessage, error) {
	s.exprs = append(s.exprs, expr)
	if s.err != nil {
		return nil, s.err
	}
	return json.Marshal(s.scan)
}

func assistant(index int, elements ...Element) Turn {
	return Turn{Index: index, Role: "assistant", Elements: elements}
}

func user(index int) Turn { return Turn{Index: index, Role: "user"} }

func generatedImage(src string, w, h float64) Element {
	return Element{Kind: "img", Src: src, Label: "Generated image", Width: w, Height: h, NaturalWidth: 1024, NaturalHeight: 1024}
}

func TestSelectScopePicksNewestAttributableTurn(t *testing.T) {
	turns := []Turn{user(0), assistant(1), user(2), {Index: 3, TurnType: "assistant"}, user(4)}

	scope, ok := SelectScope(turns, DefaultRole, NoMinTurn)
	require.True(t, ok)
	assert.Equal(t, 3, scope.TurnIndex)
	assert.False(t, scope.Document)
}

func TestSelectScopeNestedRole(t *testing.T) {
	turns := []Turn{user(0), {Index: 1, NestedRole: "assistant"}}
	scope, ok := SelectScope(turns, DefaultRole, 1)
	require.True(t, ok)
	assert.Equal(t, 1, scope.TurnIndex)
}

func TestTurnAttributableMarkers(t *testing.T) {
	tests := []struct {
		name string
		turn Turn
		want bool
	}{
		{"upper-case role", Turn{Role: "Assistant"}, true},
		{"padded turn type", Turn{TurnType: " ASSISTANT "}, true},
		{"test id mentions role", Turn{TestID: "assistant-message-7"}, true},
		{"turn test id only", Turn{TestID: "conversation-turn-4"}, false},
		{"other role", Turn{Role: "user", TestID: "conversation-turn-2"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.turn.Attributable(DefaultRole))
		})
	}
	assert.False(t, Turn{Role: "assistant"}.Attributable(""))

	scope, ok := SelectScope([]Turn{user(0), {Index: 1, TestID: "Assistant-Turn"}}, DefaultRole, 1)
	require.True(t, ok)
	assert.Equal(t, 1, scope.TurnIndex)
}

func TestSelectScopeFallsBackToDocumentWithoutMinimum(t *testing.T) {
	scope, ok := SelectScope([]Turn{user(0)}, DefaultRole, NoMinTurn)
	require.True(t, ok)
	assert.True(t, scope.Document)
	assert.Equal(t, -1, scope.TurnIndex)
}

func TestSelectScopeFailsClosedOnStaleTurns(t *testing.T) {
	_, ok := SelectScope([]Turn{assistant(0), assistant(1)}, DefaultRole, 3)
	assert.False(t, ok)
}

func TestDiscoverStaleTurnsReturnsEmpty(t *testing.T) {
	ev := &scanEvaluator{scan: Scan{
		BaseURL:   "https://chat.example/c/1",
		TurnCount: 2,
		Turns: []Turn{
			assistant(0, generatedImage("/backend-api/estuary/content?id=file_old", 600, 600)),
			assistant(1, generatedImage("/backend-api/estuary/content?id=file_old2", 600, 600)),
		},
		Document: []Element{generatedImage("/backend-api/estuary/content?id=file_doc", 600, 600)},
	}}

	res, err := New(Selectors{}, "", nil).Discover(context.Background(), ev, 3)
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Empty(t, res.Assets)
	require.Len(t, ev.exprs, 1)
	assert.Contains(t, ev.exprs[0], `"minTurnIndex":3`)
	assert.Contains(t, ev.exprs[0], `"document":false`)
}

func TestDiscoverRanksGeneratedAssetFirst(t *testing.T) {
	ev := &scanEvaluator{scan: Scan{
		BaseURL: "https://chat.example/c/1",
		Turns: []Turn{
			user(0),
			assistant(1,
				Element{Kind: "img", Src: "https://cdn.example/static/photo.png", Width: 600, Height: 600},
				Element{Kind: "link", Href: "https://files.example/file-2.png?p=fs", Label: "Open"},
				Element{Kind: "link", Href: "https://example.com/download", Label: "Download the desktop app"},
				generatedImage("/backend-api/estuary/content?id=file_1", 600, 600),
			),
		},
	}}

	res, err := New(Selectors{}, "", nil).Discover(context.Background(), ev, 1)
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Len(t, res.Assets, 2, "the extension-only image scores below the floor")

	top := res.Assets[0]
	assert.Equal(t, "https://chat.example/backend-api/estuary/content?id=file_1", top.URL)
	assert.GreaterOrEqual(t, top.Score, 9)
	assert.Equal(t, 11, top.Score)
	assert.Equal(t, "https://files.example/file-2.png?p=fs", res.Assets[1].URL)
	assert.Equal(t, 2, res.Assets[1].Score)
}

func TestDiscoverDocumentFallback(t *testing.T) {
	ev := &scanEvaluator{scan: Scan{
		BaseURL:  "https://chat.example/",
		Document: []Element{generatedImage("blob:https://chat.example/abc", 300, 300)},
	}}

	res, err := New(Selectors{}, "", nil).Discover(context.Background(), ev, NoMinTurn)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.True(t, res.Scope.Document)
	assert.Equal(t, []string{"blob:https://chat.example/abc"}, res.Locators())
}

func TestDiscoverPropagatesEvaluateError(t *testing.T) {
	ev := &scanEvaluator{err: errors.New("socket closed")}
	_, err := New(Selectors{}, "", nil).Discover(context.Background(), ev, 0)
	assert.Error(t, err)
}

func TestScoreRules(t *testing.T) {
	tests := []struct {
		name string
		c    Candidate
		want int
	}{
		{"generated label", Candidate{URL: "https://x/a.png", Label: "Generated image: cat"}, 6},
		{"blob scheme", Candidate{URL: "blob:https://x/1"}, 4},
		{"data scheme", Candidate{URL: "data:image/png;base64,AAAA"}, 4},
		{"canonical files path", Candidate{URL: "https://x/backend-api/files/abc"}, 4},
		{"full-size hint", Candidate{URL: "https://x/a.png?p=fs"}, 2},
		{"full-size canonical", Candidate{URL: "https://x/backend-api/estuary/content?id=file_1&p=fs"}, 6},
		{"download path earns nothing", Candidate{URL: "https://example.com/download", Label: "Download the desktop app", Source: SourceLink}, 0},
		{"public penalty", Candidate{URL: "https://x/public/a.png?p=fs"}, 1},
		{"large box", Candidate{URL: "https://x/a.png", HasBox: true, Width: 512, Height: 512}, 1},
		{"large link has no box", Candidate{URL: "https://x/a.png", Width: 800, Height: 800}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.c, DefaultRules))
		})
	}
}

func TestAdmissibleSizeFilters(t *testing.T) {
	tests := []struct {
		name string
		c    Candidate
		want bool
	}{
		{"tiny render", Candidate{HasBox: true, Width: 40, Height: 40}, false},
		{"small intrinsic small render", Candidate{HasBox: true, Width: 90, Height: 90, NaturalWidth: 80, NaturalHeight: 80}, false},
		{"small intrinsic large render", Candidate{HasBox: true, Width: 100, Height: 100, NaturalWidth: 80, NaturalHeight: 80}, true},
		{"unknown intrinsic", Candidate{HasBox: true, Width: 90, Height: 90}, true},
		{"link without box", Candidate{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Admissible(tt.c, MinScore))
		})
	}
	assert.False(t, Admissible(Candidate{}, MinScore-1))
}

func TestRankDedupKeepsMaxScoreAtFirstPosition(t *testing.T) {
	cands := []Candidate{
		{URL: "https://x/a.png?p=fs", Order: 0},
		{URL: "blob:b", Order: 1},
		{URL: "https://x/a.png?p=fs", Label: "Generated image", Order: 2},
	}
	ranked := Rank(cands, nil)
	require.Len(t, ranked, 2)
	assert.Equal(t, "https://x/a.png?p=fs", ranked[0].URL)
	assert.Equal(t, 8, ranked[0].Score)
	assert.Equal(t, 0, ranked[0].Order)
}

func TestRankDropsUnrelatedDownloadLinks(t *testing.T) {
	ranked := Rank([]Candidate{
		{URL: "https://example.com/download", Label: "Download the desktop app", Source: SourceLink},
		{URL: "https://x/backend-api/estuary/content?id=file_1&p=fs", Source: SourceLink, Order: 1},
	}, nil)
	require.Len(t, ranked, 1)
	assert.Equal(t, 6, ranked[0].Score)
}

func TestRankTiesKeepDiscoveryOrder(t *testing.T) {
	cands := []Candidate{{URL: "blob:1", Order: 0}, {URL: "blob:2", Order: 1}, {URL: "blob:3", Order: 2}}
	ranked := Rank(cands, nil)
	require.Len(t, ranked, 3)
	assert.Equal(t, []string{"blob:1", "blob:2", "blob:3"}, []string{ranked[0].URL, ranked[1].URL, ranked[2].URL})
}

func TestExpandSources(t *testing.T) {
	els := []Element{
		{Kind: "img", Src: "/a.png", Srcset: "/s.png 300w, /l.png 1200w", Width: 10, Height: 10},
		{Kind: "background", Style: `url("/bg1.png"), url('/bg2.png'), url(/bg3.png)`},
		{Kind: "link", Href: "#", DataHref: "/files/x", DataURL: "javascript:void(0)", Label: "Download"},
	}
	cands := Expand(els, "https://chat.example/c/1")

	var urls []string
	for _, c := range cands {
		urls = append(urls, c.URL)
	}
	assert.Equal(t, []string{
		"https://chat.example/a.png",
		"https://chat.example/l.png",
		"https://chat.example/bg1.png",
		"https://chat.example/bg2.png",
		"https://chat.example/bg3.png",
		"https://chat.example/files/x",
	}, urls)
	assert.Equal(t, SourceSrcset, cands[1].Source)
	assert.False(t, cands[5].HasBox)
	assert.Equal(t, "Download", cands[5].Label)
	for i, c := range cands {
		assert.Equal(t, i, c.Order)
	}
}

func TestBestSrcsetEntry(t *testing.T) {
	tests := map[string]string{
		"a.png 1x, b.png 2x":                       "b.png",
		"s.png 300w, l.png 1200w":                  "l.png",
		"x.png 1.5x, y.png 1200w":                  "x.png",
		"only.png":                                 "only.png",
		"":                                         "",
		"data:image/png;base64,AA,BB 1x, z.png 3x": "z.png",
		"bad.png 12q, good.png 100w":               "good.png",
	}
	for in, want := range tests {
		assert.Equal(t, want, BestSrcsetEntry(in), in)
	}
}

func TestCountTurns(t *testing.T) {
	ev := &scanEvaluator{scan: Scan{TurnCount: 5}}
	n, err := New(Selectors{}, "", nil).CountTurns(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Contains(t, ev.exprs[0], `"elements":false`)
}

func TestTextSampleFingerprintsNewestTurn(t *testing.T) {
	ev := &scanEvaluator{scan: Scan{Turns: []Turn{
		{Index: 0, Role: "user", Text: "prompt"},
		{Index: 1, Role: "assistant", Text: "partial answ"},
	}}}
	d := New(Selectors{}, "", nil)

	snap, err := d.TextSample(ev, 1)(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, snap.Count())
	assert.True(t, strings.HasPrefix(snap.Locators[0], TextLocatorPrefix))
	assert.Equal(t, "partial answ", snap.Text)

	ev.scan.Turns[1].Text = "partial answer"
	next, err := d.TextSample(ev, 1)(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, snap.Signature(), next.Signature())
}

func TestTextSampleEmptyWhenNoNewTurn(t *testing.T) {
	ev := &scanEvaluator{scan: Scan{Turns: []Turn{{Index: 0, Role: "assistant", Text: "old"}}}}
	snap, err := New(Selectors{}, "", nil).TextSample(ev, 1)(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Empty())
}

func TestImageSample(t *testing.T) {
	ev := &scanEvaluator{scan: Scan{
		BaseURL: "https://chat.example/",
		Turns:   []Turn{assistant(0, generatedImage("blob:https://chat.example/1", 600, 600))},
	}}
	snap, err := New(Selectors{}, "", nil).ImageSample(ev, 0)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"blob:https://chat.example/1"}, snap.Locators)
}

// Property: ranked output is unique, above the floor and ordered by score.
func TestRankProperties(t *testing.T) {
	urls := []string{
		"blob:https://chat.example/1",
		"https://chat.example/backend-api/files/2",
		"https://files.oaiusercontent.com/3.png",
		"https://cdn.example/public/4.png",
		"https://cdn.example/5.png",
	}
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(rt, "n")
		cands := make([]Candidate, n)
		for i := range cands {
			cands[i] = Candidate{
				URL:    rapid.SampledFrom(urls).Draw(rt, "url"),
				Label:  rapid.SampledFrom([]string{"", "Generated image", "avatar"}).Draw(rt, "label"),
				HasBox: rapid.Bool().Draw(rt, "box"),
				Width:  float64(rapid.IntRange(0, 1200).Draw(rt, "w")),
				Height: float64(rapid.IntRange(0, 1200).Draw(rt, "h")),
				Order:  i,
			}
		}

		ranked := Rank(cands, nil)
		seen := map[string]bool{}
		for i, r := range ranked {
			assert.False(rt, seen[r.URL], "duplicate %s", r.URL)
			seen[r.URL] = true
			assert.GreaterOrEqual(rt, r.Score, MinScore)
			if i > 0 {
				prev := ranked[i-1]
				assert.True(rt, prev.Score > r.Score || (prev.Score == r.Score && prev.Order < r.Order))
			}
		}
	})
}
