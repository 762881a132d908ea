package chatcore

// TruncateHistory bounds the conversation history by message count and then
// by estimated tokens, dropping the oldest turns first. The most recent
// turns are always preserved.
func TruncateHistory(history []Message, tokenLimit, messageLimit int) []Message {
	if len(history) == 0 {
		return history
	}

	if messageLimit > 0 && len(history) > messageLimit {
		history = history[len(history)-messageLimit:]
	}

	if tokenLimit <= 0 {
		return history
	}

	totalTokens := 0
	for _, msg := range history {
		totalTokens += EstimateTokens(msg.Content)
	}
	for totalTokens > tokenLimit && len(history) > 0 {
		totalTokens -= EstimateTokens(history[0].Content)
		history = history[1:]
	}
	return history
}

// AppendTurn appends one turn to the conversation history.
func AppendTurn(history []Message, role Role, content string) []Message {
	return append(history, Message{Role: role, Content: content})
}
