// Package chatcore holds the shared state model for the multi-persona chat
// backend: conversation turns, user tiers, languages, and persona modes.
// Storage, rate limiting, locking, and decision reconciliation live in
// subpackages and share these types.
package chatcore

import "strings"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Tier is a user class determining rate-limit thresholds.
type Tier string

const (
	TierNormal  Tier = "normal"
	TierPremium Tier = "premium"
)

// ParseTier normalizes tier text. Only "normal" and "premium" are valid;
// anything else returns false.
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierNormal:
		return TierNormal, true
	case TierPremium:
		return TierPremium, true
	}
	return "", false
}

// Mode selects a persona and its decision schema.
type Mode string

const (
	ModeTravel  Mode = "travel"
	ModeReply   Mode = "reply"
	ModeFitness Mode = "fitness"
	ModeJob     Mode = "job"
	ModeStudy   Mode = "study"
)
