package service

import "unicode/utf8"

// EstimateTokens approximates the token cost of text as ceil(runes/4).
// It is a budget heuristic, not a tokenizer; all context-window
// decisions in this package use it consistently.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (utf8.RuneCountInString(text) + 3) / 4
}
