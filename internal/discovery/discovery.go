package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/chatpilot/internal/automation"
	"github.com/shehryarbajwa/chatpilot/internal/poller"
)

// TextLocatorPrefix marks the fingerprint locator of a text-mode snapshot
const TextLocatorPrefix = "text:"

// Result is one discovery pass
type Result struct {
	Scope  Scope
	Found  bool
	Assets []ScoredCandidate
}

// Locators returns the ranked asset URLs
func (r Result) Locators() []string {
	out := make([]string, 0, len(r.Assets))
	for _, a := range r.Assets {
		out = append(out, a.URL)
	}
	return out
}

// Discoverer finds ranked assets in the newest turn of a given role
type Discoverer struct {
	sel   Selectors
	role  string
	rules []Rule
	log   *zap.Logger
}

// New creates a discoverer. An empty role selects DefaultRole.
func New(sel Selectors, role string, log *zap.Logger) *Discoverer {
	if role == "" {
		role = DefaultRole
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Discoverer{sel: sel.WithDefaults(), role: role, rules: DefaultRules, log: log}
}

// Role returns the conversation role discovery attributes turns to
func (d *Discoverer) Role() string { return d.role }

// Selectors returns the effective DOM selectors
func (d *Discoverer) Selectors() Selectors { return d.sel }

// Discover scans the page and ranks the assets of the selected scope. A
// result with Found false means no turn qualified and the search failed
// closed.
func (d *Discoverer) Discover(ctx context.Context, ev automation.Evaluator, minTurnIndex int) (Result, error) {
	scan, err := RunScan(ctx, ev, d.sel, ScanRequest{
		MinTurnIndex: minTurnIndex,
		Elements:     true,
		Document:     minTurnIndex < 0,
	})
	if err != nil {
		return Result{}, err
	}
	return d.FromScan(scan, minTurnIndex), nil
}

// FromScan runs scope selection and ranking over an already decoded scan
func (d *Discoverer) FromScan(scan Scan, minTurnIndex int) Result {
	scope, ok := SelectScope(scan.Turns, d.role, minTurnIndex)
	if !ok {
		d.log.Debug("No qualifying turn", zap.Int("min_turn", minTurnIndex), zap.Int("turns", scan.TurnCount))
		return Result{Scope: scope}
	}
	elements := scope.Turn.Elements
	if scope.Document {
		elements = scan.Document
	}
	return Result{
		Scope:  scope,
		Found:  true,
		Assets: Rank(Expand(elements, scan.BaseURL), d.rules),
	}
}

// CountTurns returns the number of conversation turns on the page
func (d *Discoverer) CountTurns(ctx context.Context, ev automation.Evaluator) (int, error) {
	scan, err := RunScan(ctx, ev, d.sel, ScanRequest{MinTurnIndex: NoMinTurn})
	if err != nil {
		return 0, err
	}
	return scan.TurnCount, nil
}

// ImageSample samples the ranked asset locators of the newest turn
func (d *Discoverer) ImageSample(ev automation.Evaluator, minTurnIndex int) poller.SampleFunc {
	return func(ctx context.Context) (poller.Snapshot, error) {
		res, err := d.Discover(ctx, ev, minTurnIndex)
		if err != nil {
			return poller.Snapshot{}, err
		}
		return poller.NewSnapshot(res.Locators()), nil
	}
}

// TextSample samples the text of the newest turn. The snapshot's only
// locator is a fingerprint of the text, so growing text reads as change.
func (d *Discoverer) TextSample(ev automation.Evaluator, minTurnIndex int) poller.SampleFunc {
	return func(ctx context.Context) (poller.Snapshot, error) {
		scan, err := RunScan(ctx, ev, d.sel, ScanRequest{MinTurnIndex: minTurnIndex, Text: true})
		if err != nil {
			return poller.Snapshot{}, err
		}
		scope, ok := SelectScope(scan.Turns, d.role, minTurnIndex)
		if !ok || scope.Document || scope.Turn.Text == "" {
			return poller.Snapshot{}, nil
		}
		snap := poller.NewSnapshot([]string{TextFingerprint(scope.Turn.Text)})
		snap.Text = scope.Turn.Text
		return snap, nil
	}
}

// TextFingerprint is the locator standing in for a block of text
func TextFingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return TextLocatorPrefix + hex.EncodeToString(sum[:])
}
