package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/analytics/internal/model"
)

// SaveContract stores c as the new current contract version and returns it
// with its assigned id and save time.
func (s *Store) SaveContract(ctx context.Context, c model.AnalyticsContract) (model.AnalyticsContract, error) {
	now := time.Now().UTC()
	c.ID = uuid.NewString()
	c.SavedAt = &now

	body, err := json.Marshal(c)
	if err != nil {
		return model.AnalyticsContract{}, fmt.Errorf("encode contract: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analytics_contracts (id, saved_at, body) VALUES (?, ?, ?)`,
		c.ID, now, string(body),
	)
	if err != nil {
		return model.AnalyticsContract{}, err
	}
	return c, nil
}

// CurrentContract returns the most recently saved contract.
// Returns nil and nil error if none was saved.
func (s *Store) CurrentContract(ctx context.Context) (*model.AnalyticsContract, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM analytics_contracts ORDER BY seq DESC LIMIT 1`,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c model.AnalyticsContract
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return nil, fmt.Errorf("decode contract: %w", err)
	}
	return &c, nil
}
