package model

import "time"

// MetricDefinition describes one metric exposed by the analytics contract.
type MetricDefinition struct {
	Name        string `json:"name" yaml:"name" validate:"required"`
	Type        string `json:"type" yaml:"type" validate:"required,oneof=integer number boolean string array object"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// AnalyticsContract is the catalog of metric names and types the service
// exposes. ID and SavedAt are assigned by the store on save.
type AnalyticsContract struct {
	ID           string             `json:"id,omitempty" yaml:"-"`
	SavedAt      *time.Time         `json:"saved_at,omitempty" yaml:"-"`
	Qualitative  []MetricDefinition `json:"qualAnalytics" yaml:"qualAnalytics" validate:"dive"`
	Quantitative []MetricDefinition `json:"quantAnalytics" yaml:"quantAnalytics" validate:"dive"`
}
