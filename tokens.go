package chatcore

// EstimateTokens estimates the token count for a text using a Unicode-aware
// heuristic. ASCII characters are weighted at ~4 per token; non-ASCII
// (CJK, kana, emoji, etc.) at ~1 per token, which is conservative for the
// Japanese-heavy traffic this backend serves.
func EstimateTokens(text string) int {
	weight := 0
	for _, r := range text {
		if r <= 127 {
			weight++
		} else {
			weight += 4
		}
	}
	return (weight + 3) / 4
}
