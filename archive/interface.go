// Package archive persists finalized plans outside the session store, so a
// completed itinerary or training plan survives session expiry.
package archive

import (
	"context"
	"time"
)

// Store provides durable plan storage for chat service operations.
type Store interface {
	// SavePlan writes one finalized plan record.
	SavePlan(ctx context.Context, plan Plan) error

	// PlansBySession retrieves all plans archived for a session, newest
	// first.
	PlansBySession(ctx context.Context, sessionID string) ([]Plan, error)

	// Close closes the store and releases resources.
	Close() error
}

// Plan is one archived plan record.
type Plan struct {
	ID        string    `json:"id,omitempty"`
	SessionID string    `json:"session_id"`
	Mode      string    `json:"mode"`
	Decision  string    `json:"decision"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}
