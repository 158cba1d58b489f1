package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "opspilot"

// Metrics holds all OpsPilot metric instruments.
type Metrics struct {
	RunsStarted       metric.Int64Counter
	RunsCompleted     metric.Int64Counter
	RunsFailed        metric.Int64Counter
	RunsSuspended     metric.Int64Counter
	ApprovalsResolved metric.Int64Counter
	RunDuration       metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("opspilot.runs.started",
		metric.WithDescription("Number of runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("opspilot.runs.completed",
		metric.WithDescription("Number of runs completed"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("opspilot.runs.failed",
		metric.WithDescription("Number of runs failed"))
	if err != nil {
		return nil, err
	}

	m.RunsSuspended, err = meter.Int64Counter("opspilot.runs.suspended",
		metric.WithDescription("Number of runs suspended for approval"))
	if err != nil {
		return nil, err
	}

	m.ApprovalsResolved, err = meter.Int64Counter("opspilot.approvals.resolved",
		metric.WithDescription("Number of approvals resolved"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("opspilot.run.duration_seconds",
		metric.WithDescription("Run duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
