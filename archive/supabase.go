package archive

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/supabase-community/supabase-go"

	chatcore "github.com/creastat/chatcore"
)

const defaultTable = "plans"

// Config holds Supabase connection configuration.
type Config struct {
	URL    string
	APIKey string

	// Table is the plans table name. Default: "plans".
	Table string
}

// Client implements the Store interface using Supabase.
type Client struct {
	client *supabase.Client
	table  string
	now    func() time.Time
}

// New creates a new Supabase-backed archive.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	if cfg.Table == "" {
		cfg.Table = defaultTable
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Client{
		client: client,
		table:  cfg.Table,
		now:    time.Now,
	}, nil
}

// SavePlan writes one finalized plan record.
func (c *Client) SavePlan(ctx context.Context, plan Plan) error {
	if plan.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = c.now().UTC()
	}

	_, _, err := c.client.From(c.table).
		Insert(plan, false, "", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

// PlansBySession retrieves all plans archived for a session, newest first.
func (c *Client) PlansBySession(ctx context.Context, sessionID string) ([]Plan, error) {
	var plans []Plan
	_, err := c.client.From(c.table).
		Select("*", "", false).
		Eq("session_id", sessionID).
		ExecuteTo(&plans)
	if err != nil {
		return nil, fmt.Errorf("failed to get plans by session_id: %w", err)
	}

	sort.Slice(plans, func(i, j int) bool {
		return plans[i].CreatedAt.After(plans[j].CreatedAt)
	})
	return plans, nil
}

// Archive records the session's finalized decision state as a plan.
func (c *Client) Archive(ctx context.Context, sessionID string, mode chatcore.Mode, decision string) error {
	return c.SavePlan(ctx, Plan{
		SessionID: sessionID,
		Mode:      string(mode),
		Decision:  decision,
	})
}

// Close closes the Supabase client.
func (c *Client) Close() error {
	// Supabase client doesn't require explicit close
	return nil
}

// Compile-time check that Client implements Store.
var _ Store = (*Client)(nil)
