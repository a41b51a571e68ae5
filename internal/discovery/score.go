package discovery

import (
	"sort"
	"strings"
)

const (
	// MinScore is the lowest score a candidate may carry and still be kept
	MinScore = 2
	// MinRenderedArea rejects icons and avatars, in CSS px²
	MinRenderedArea = 4096
	// MinIntrinsicArea rejects thumbnails unless they render large
	MinIntrinsicArea = 10000
	// MinRenderedSide lets a small intrinsic image through when drawn this large
	MinRenderedSide = 96
	// LargeSide earns the size bonus when both rendered sides reach it
	LargeSide = 512
)

var (
	canonicalPaths = []string{"/backend-api/estuary/content", "/backend-api/files/"}
	// p=fs marks the full-size rendition of a delivered image
	secondaryHints = []string{"p=fs"}
)

// Rule adds Delta to a candidate's score when Match holds
type Rule struct {
	Name  string
	Match func(Candidate) bool
	Delta int
}

// DefaultRules is the scoring table, applied in order
var DefaultRules = []Rule{
	{Name: "generated-label", Delta: 6, Match: func(c Candidate) bool {
		return strings.Contains(strings.ToLower(c.Label), "generated")
	}},
	{Name: "inline-scheme", Delta: 4, Match: func(c Candidate) bool {
		return strings.HasPrefix(c.URL, "blob:") || strings.HasPrefix(c.URL, "data:")
	}},
	{Name: "canonical-path", Delta: 4, Match: func(c Candidate) bool {
		return containsAny(c.URL, canonicalPaths)
	}},
	{Name: "secondary-hint", Delta: 2, Match: func(c Candidate) bool {
		return containsAny(strings.ToLower(c.URL), secondaryHints)
	}},
	{Name: "public-hint", Delta: -1, Match: func(c Candidate) bool {
		return strings.Contains(strings.ToLower(c.URL), "public")
	}},
	{Name: "large-render", Delta: 1, Match: func(c Candidate) bool {
		return c.HasBox && c.Width >= LargeSide && c.Height >= LargeSide
	}},
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ScoredCandidate is a candidate with its computed score
type ScoredCandidate struct {
	Candidate
	Score int
}

// Score sums the deltas of every matching rule
func Score(c Candidate, rules []Rule) int {
	total := 0
	for _, r := range rules {
		if r.Match(c) {
			total += r.Delta
		}
	}
	return total
}

// Admissible applies the score and size filters. Size checks only apply to
// candidates with a rendered box; the intrinsic check needs known natural
// dimensions.
func Admissible(c Candidate, score int) bool {
	if score < MinScore {
		return false
	}
	if !c.HasBox {
		return true
	}
	if c.Width*c.Height < MinRenderedArea {
		return false
	}
	if c.NaturalWidth > 0 && c.NaturalHeight > 0 &&
		c.NaturalWidth*c.NaturalHeight < MinIntrinsicArea &&
		(c.Width < MinRenderedSide || c.Height < MinRenderedSide) {
		return false
	}
	return true
}

// Rank scores, filters and dedups candidates, keeping the best score per
// locator. The result is ordered by score descending with ties kept in
// discovery order.
func Rank(cands []Candidate, rules []Rule) []ScoredCandidate {
	if rules == nil {
		rules = DefaultRules
	}
	index := make(map[string]int)
	var out []ScoredCandidate
	for _, c := range cands {
		s := Score(c, rules)
		if !Admissible(c, s) {
			continue
		}
		if i, ok := index[c.URL]; ok {
			if s > out[i].Score {
				order := out[i].Order
				out[i] = ScoredCandidate{Candidate: c, Score: s}
				out[i].Order = order
			}
			continue
		}
		index[c.URL] = len(out)
		out = append(out, ScoredCandidate{Candidate: c, Score: s})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Order < out[j].Order
	})
	return out
}
