package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/analytics/internal/model"
	"github.com/pavelanni/analytics/internal/observability"
)

// CalculatedAtLayout formats AnalyticsMetrics.CalculatedAt (always UTC).
const CalculatedAtLayout = "2006-01-02T15:04:05.000000Z"

// DefaultConcurrency bounds the instance-wide fan-out when none is configured.
const DefaultConcurrency = 4

// SourceReader reads submissions, activities and instances from the
// activity component. Absent values are returned as nil with a nil error.
type SourceReader interface {
	GetSubmission(ctx context.Context, instanceID, studentID string) (*model.Submission, error)
	GetActivity(ctx context.Context, activityID string) (*model.Activity, error)
	GetInstance(ctx context.Context, instanceID string) (*model.DeploymentInstance, error)
	GetInstanceSubmissions(ctx context.Context, instanceID string) ([]model.Submission, error)
}

// MetricsStore caches computed metrics keyed by (instance, student).
// GetMetrics returns nil with a nil error on a miss.
type MetricsStore interface {
	GetMetrics(ctx context.Context, instanceID, studentID string) (*model.AnalyticsMetrics, error)
	UpsertMetrics(ctx context.Context, m model.AnalyticsMetrics) error
}

// Config tunes an Engine.
type Config struct {
	Concurrency int // instance-wide fan-out; 0 means DefaultConcurrency
	Metrics     *observability.Metrics
}

// Engine computes analytics metrics and writes them through to the store.
type Engine struct {
	source      SourceReader
	store       MetricsStore
	concurrency int
	obs         *observability.Metrics
	validate    *validator.Validate
	now         func() time.Time
}

// NewEngine creates an Engine over the given reader and store.
func NewEngine(src SourceReader, st MetricsStore, cfg Config) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Engine{
		source:      src,
		store:       st,
		concurrency: cfg.Concurrency,
		obs:         cfg.Metrics,
		validate:    newValidator(),
		now:         time.Now,
	}
}

// ComputeForStudent returns the metrics of one student in one instance.
// Unless force is set, a cached result is returned as is, without touching
// the source. Otherwise the submission, instance and activity are fetched,
// metrics are recalculated and the store row is replaced.
func (e *Engine) ComputeForStudent(ctx context.Context, instanceID, studentID string, force bool) (result model.AnalyticsMetrics, err error) {
	defer func() { e.obs.Computation("student", err) }()

	if !force {
		cached, err := e.store.GetMetrics(ctx, instanceID, studentID)
		if err != nil {
			return model.AnalyticsMetrics{}, fmt.Errorf("read cached metrics: %w", err)
		}
		e.obs.CacheLookup(cached != nil)
		if cached != nil {
			slog.Debug("serving cached metrics", "instance_id", instanceID, "student_id", studentID)
			return *cached, nil
		}
	}

	sub, err := e.source.GetSubmission(ctx, instanceID, studentID)
	if err != nil {
		return model.AnalyticsMetrics{}, fmt.Errorf("fetch submission: %w", err)
	}
	if sub == nil {
		return model.AnalyticsMetrics{}, fmt.Errorf("submission for instance %s and student %s: %w", instanceID, studentID, model.ErrNotFound)
	}

	act, err := e.activityForInstance(ctx, instanceID)
	if err != nil {
		return model.AnalyticsMetrics{}, err
	}

	result = e.calculate(instanceID, studentID, *sub, *act)
	if err := e.store.UpsertMetrics(ctx, result); err != nil {
		return model.AnalyticsMetrics{}, fmt.Errorf("store metrics: %w", err)
	}
	return result, nil
}

// ComputeForInstance recalculates metrics for every submission of an
// instance and writes each through to the store. The result follows the
// order in which the source returned the submissions.
//
// force is accepted for symmetry with ComputeForStudent but has no effect:
// this path never reads cached rows and always overwrites them.
func (e *Engine) ComputeForInstance(ctx context.Context, instanceID string, force bool) (results []model.AnalyticsMetrics, err error) {
	defer func() { e.obs.Computation("instance", err) }()

	act, err := e.activityForInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	subs, err := e.source.GetInstanceSubmissions(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("fetch instance submissions: %w", err)
	}
	slog.Debug("computing instance metrics",
		"instance_id", instanceID,
		"submissions", len(subs),
		"force", force,
	)

	results = make([]model.AnalyticsMetrics, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, sub := range subs {
		g.Go(func() error {
			m := e.calculate(instanceID, sub.StudentID, sub, *act)
			if err := e.store.UpsertMetrics(gctx, m); err != nil {
				return fmt.Errorf("store metrics for student %s: %w", sub.StudentID, err)
			}
			results[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// activityForInstance resolves instance -> activity.
func (e *Engine) activityForInstance(ctx context.Context, instanceID string) (*model.Activity, error) {
	inst, err := e.source.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("fetch instance: %w", err)
	}
	if inst == nil {
		return nil, fmt.Errorf("instance %s: %w", instanceID, model.ErrNotFound)
	}

	act, err := e.source.GetActivity(ctx, inst.ActivityID)
	if err != nil {
		return nil, fmt.Errorf("fetch activity: %w", err)
	}
	if act == nil {
		return nil, fmt.Errorf("activity %s: %w", inst.ActivityID, model.ErrNotFound)
	}
	return act, nil
}

func (e *Engine) calculate(instanceID, studentID string, sub model.Submission, act model.Activity) model.AnalyticsMetrics {
	b := Quantitative(sub, act)

	e.obs.TimeEstimate(string(b.TimeSource))
	e.obs.SkippedAnswers(b.SkippedAnswers)
	if b.TimeSource == TimeLimitFallback {
		slog.Debug("could not parse attempt timestamps, used configured time limit",
			"instance_id", instanceID, "student_id", studentID, "limit_seconds", act.TimeLimitSeconds())
	}
	if issues := dataIssues(e.validate, sub, act); len(issues) > 0 {
		slog.Debug("source data violates constraints",
			"instance_id", instanceID, "student_id", studentID, "issues", issues)
	}
	if b.SkippedAnswers > 0 {
		slog.Debug("skipped answers with unusable question ids",
			"instance_id", instanceID, "student_id", studentID, "skipped", b.SkippedAnswers)
	}

	return model.AnalyticsMetrics{
		InstanceID:   instanceID,
		StudentID:    studentID,
		Metrics:      b.Metrics,
		Qualitative:  Qualitative(sub),
		CalculatedAt: e.now().UTC().Format(CalculatedAtLayout),
	}
}
