package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/pricebook/internal/jobs"
	"github.com/odyssey-erp/pricebook/internal/pricelist"
)

// IntegrityScanJob audits the single-current invariant across every scope.
type IntegrityScanJob struct {
	Scanner pricelist.IntegrityScanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIntegrityScanJob initialises the integrity scan handler.
func NewIntegrityScanJob(scanner pricelist.IntegrityScanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityScanJob {
	return &IntegrityScanJob{Scanner: scanner, Logger: logger, Metrics: metrics}
}

// Handle executes the scan. Violations are reported, not repaired.
func (j *IntegrityScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Scanner == nil {
		return errors.New("integrity scan: handler not configured")
	}
	var payload IntegrityScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run scans and returns the violations matching payload.
func (j *IntegrityScanJob) Run(ctx context.Context, payload IntegrityScanPayload) (result []pricelist.ScopeViolation, resultErr error) {
	start := time.Now()
	tracker := j.Metrics.Track(TaskPriceListIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("job", TaskPriceListIntegrity))
	violations, err := j.Scanner.CurrentViolations(ctx)
	if err != nil {
		logger.Error("integrity scan failed", slog.Any("error", err))
		return nil, err
	}

	for _, v := range violations {
		if payload.Kind != "" && string(v.Scope.Kind) != payload.Kind {
			continue
		}
		ids := make([]string, 0, len(v.Current))
		for _, id := range v.Current {
			ids = append(ids, id.String())
		}
		logger.Warn("scope has more than one current price list",
			slog.String("kind", string(v.Scope.Kind)),
			slog.String("scope_key", v.Scope.Key),
			slog.Any("current", ids),
		)
		j.Metrics.AddViolations(string(v.Scope.Kind), 1)
		result = append(result, v)
	}

	logger.Info("completed integrity scan",
		slog.Int("violations", len(result)),
		slog.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func (j *IntegrityScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
