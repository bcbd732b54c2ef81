// Package tokens estimates the model token cost of a suggestion request so
// the gateway can keep AI calls under a tokens-per-minute budget.
// Estimation is byte-based (about 4 bytes per token for code and English).
package tokens

const charsPerToken = 4

// DefaultResponseReserve is the number of tokens assumed for the model's
// answer to one suggestion request.
const DefaultResponseReserve = 1024

// Estimate returns the estimated token count of text: (len+3)/4 bytes, so
// 1–4 bytes are 1 token, 5–8 are 2, and the empty string is 0.
func Estimate(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}

// RequestCost returns the estimated tokens consumed by one suggestion call
// whose prompt carries fields: their estimates plus DefaultResponseReserve.
func RequestCost(fields ...string) int {
	total := DefaultResponseReserve
	for _, f := range fields {
		total += Estimate(f)
	}
	return total
}

// Clamp limits cost to budget so a single oversized request can still be
// admitted by a limiter whose burst is budget. A budget <= 0 returns cost.
func Clamp(cost, budget int) int {
	if budget > 0 && cost > budget {
		return budget
	}
	return cost
}
