// Package tokens estimates token counts for context budgeting.
package tokens

import "github.com/omnireply/omnireply/internal/model"

// CharsPerToken is the heuristic ratio used across the service. English text
// averages roughly four characters per token; good enough for threshold
// comparison, not billing-accurate.
const CharsPerToken = 4

// Estimate returns ceil(len(text)/4).
func Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + CharsPerToken - 1) / CharsPerToken
}

// EstimateMessages sums the estimate over message contents.
func EstimateMessages(msgs []*model.Message) int {
	total := 0
	for _, m := range msgs {
		total += Estimate(m.Content)
	}
	return total
}
