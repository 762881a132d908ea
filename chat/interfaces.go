// Package chat orchestrates one inbound conversation turn: session lock,
// rate check, state load, model call, decision reconciliation, state save.
// The model, safety guard, snippet retriever, and plan archiver are external
// collaborators consumed through the interfaces below.
package chat

import (
	"context"

	chatcore "github.com/creastat/chatcore"
)

// ReplyRequest carries everything the model needs to produce the assistant
// reply for one turn.
type ReplyRequest struct {
	Mode     chatcore.Mode
	Language chatcore.Language
	History  []chatcore.Message
	Decision string
	// Snippets are retrieved guide passages to ground the reply, possibly
	// empty.
	Snippets []string
	Prompt   string
}

// ExtractRequest asks the model to report new or changed decisions as a
// JSON patch. The raw response text is handed to the decision engine as-is.
type ExtractRequest struct {
	Mode     chatcore.Mode
	Language chatcore.Language
	History  []chatcore.Message
	Previous string
}

// LLM is the language model behind the conversation. Prompt construction,
// model selection, and tool-call retries live behind this interface.
type LLM interface {
	Reply(ctx context.Context, req ReplyRequest) (string, error)
	ExtractDecisions(ctx context.Context, req ExtractRequest) (string, error)
}

// Guard is a pass/fail content safety check.
type Guard interface {
	// Safe reports whether the text may be processed or shown.
	Safe(ctx context.Context, text string) bool
}

// Retriever returns guide snippets relevant to the user's prompt.
type Retriever interface {
	Retrieve(ctx context.Context, mode chatcore.Mode, lang chatcore.Language, query string, limit int) ([]string, error)
}

// Archiver persists a finalized plan outside the session store.
type Archiver interface {
	Archive(ctx context.Context, sessionID string, mode chatcore.Mode, decision string) error
}
