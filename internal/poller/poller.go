// Package poller infers completion of streamed content by quiescence: it
// samples a snapshot on a fixed interval and returns once the snapshot has
// stopped changing.
package poller

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultInterval is the spacing between samples.
	DefaultInterval = 1000 * time.Millisecond
	// DefaultStableSamples is how many consecutive unchanged non-empty reads
	// after the first appearance count as settled.
	DefaultStableSamples = 2
)

// Snapshot is a point-in-time read of candidate locators, unique and in
// discovery order
type Snapshot struct {
	Locators []string
	// Text carries the sampled text for text-mode runs. It does not take
	// part in comparisons; its fingerprint is one of the locators.
	Text string
}

// NewSnapshot builds a snapshot, dropping empty and duplicate locators
func NewSnapshot(locators []string) Snapshot {
	seen := make(map[string]struct{}, len(locators))
	out := make([]string, 0, len(locators))
	for _, l := range locators {
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return Snapshot{Locators: out}
}

// Count is the number of locators
func (s Snapshot) Count() int { return len(s.Locators) }

// Empty reports whether nothing was found
func (s Snapshot) Empty() bool { return len(s.Locators) == 0 }

// Signature is the order-independent fingerprint used for stability
// comparison. Two snapshots with the same count but different members have
// different signatures.
func (s Snapshot) Signature() string {
	sorted := append([]string(nil), s.Locators...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\n")
}

// SampleFunc produces one snapshot
type SampleFunc func(ctx context.Context) (Snapshot, error)

// Options tunes the poller
type Options struct {
	Interval      time.Duration
	StableSamples int
}

// Result is what Wait observed
type Result struct {
	Snapshot Snapshot
	Stable   bool
	Samples  int
}

// Poller waits for a sampled snapshot to settle
type Poller struct {
	opts Options
	log  *zap.Logger
}

// New creates a poller; zero options take the defaults
func New(opts Options, log *zap.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.StableSamples <= 0 {
		opts.StableSamples = DefaultStableSamples
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{opts: opts, log: log}
}

// Options returns the effective options
func (p *Poller) Options() Options { return p.opts }

// Wait samples until the snapshot has been identical for StableSamples
// consecutive reads after its first appearance, or until timeout elapses.
// On timeout it returns the most recent non-empty snapshot, which may be
// empty if nothing ever appeared. Sampling errors count as empty reads.
// Cancelling ctx ends the wait the same way a timeout does.
func (p *Poller) Wait(ctx context.Context, sample SampleFunc, timeout time.Duration) Result {
	deadline := time.Now().Add(timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var (
		best    Snapshot
		lastSig string
		haveSig bool
		stable  int
		samples int
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Debug("Poll deadline reached",
				zap.Int("samples", samples), zap.Int("count", best.Count()))
			return Result{Snapshot: best, Samples: samples}
		case <-timer.C:
		}

		snap, err := take(ctx, sample)
		samples++
		if err != nil {
			p.log.Debug("Sample failed, treating as empty", zap.Error(err))
			snap = Snapshot{}
		}

		switch {
		case snap.Empty():
			stable = 0
			haveSig = false
			lastSig = ""
		case haveSig && snap.Signature() == lastSig:
			stable++
			best = snap
		default:
			stable = 0
			haveSig = true
			lastSig = snap.Signature()
			best = snap
		}

		if stable >= p.opts.StableSamples {
			return Result{Snapshot: best, Stable: true, Samples: samples}
		}

		timer.Reset(p.opts.Interval)
	}
}

// take runs one sample, turning a panic into an error so a broken sampler
// cannot abort the wait
func take(ctx context.Context, sample SampleFunc) (snap Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sample panicked: %v", r)
		}
	}()
	return sample(ctx)
}
