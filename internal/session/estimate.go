package session

import (
	"unicode/utf8"

	"github.com/shehryarbajwa/chatpilot/pkg/models"
)

// CharEstimator approximates token counts at four characters per token.
// The hosted chat reports no usage of its own.
type CharEstimator struct{}

func (CharEstimator) Estimate(prompt, answer string) models.Usage {
	in := tokens(prompt)
	out := tokens(answer)
	return models.Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
}

func tokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}
