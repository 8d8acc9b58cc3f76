package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/analytics/internal/model"
)

// Lister is the read side shared by Store and RedisStore.
type Lister interface {
	ListMetrics(ctx context.Context, instanceID string) ([]model.AnalyticsMetrics, error)
}

// InstanceExport is the document written by `analytics export`.
type InstanceExport struct {
	InstanceID string                   `json:"instance_id"`
	ExportedAt string                   `json:"exported_at"`
	Count      int                      `json:"count"`
	Students   []model.AnalyticsMetrics `json:"students"`
}

// ExportInstance collects every cached row of an instance.
func ExportInstance(ctx context.Context, l Lister, instanceID string, now time.Time) (InstanceExport, error) {
	rows, err := l.ListMetrics(ctx, instanceID)
	if err != nil {
		return InstanceExport{}, fmt.Errorf("list metrics: %w", err)
	}
	return InstanceExport{
		InstanceID: instanceID,
		ExportedAt: now.UTC().Format(time.RFC3339),
		Count:      len(rows),
		Students:   rows,
	}, nil
}
