// Package plan defines operational action plans: ordered step lists with
// risk classification, and the rules deciding when a plan needs human
// approval before execution.
package plan

import "fmt"

// RiskLevel classifies the blast radius of one action step.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Step is one proposed operational action within a plan.
type Step struct {
	Step              int       `json:"step"`
	Title             string    `json:"title"`
	Description       string    `json:"description,omitempty"`
	RiskLevel         RiskLevel `json:"risk_level"`
	RequiresApproval  bool      `json:"requires_approval"`
	EstimatedDuration string    `json:"estimated_duration,omitempty"`
	RollbackPlan      *string   `json:"rollback_plan,omitempty"`
	ApprovalNote      string    `json:"approval_note,omitempty"`
}

// riskScore maps a risk level to its numeric weight for averaging.
func riskScore(l RiskLevel) int {
	switch l {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	default:
		return 1
	}
}

// Assessment summarizes the overall risk of a plan.
type Assessment struct {
	OverallRisk      RiskLevel `json:"overall_risk"`
	HighRiskSteps    []string  `json:"high_risk_steps"`
	AvgRiskScore     float64   `json:"avg_risk_score"`
	ApprovalRequired bool      `json:"approval_required"`
}

// Assess computes the aggregate risk of a plan. The overall level is high
// when the average step score reaches 2.5 or at least two steps are
// high-risk, medium when the average reaches 1.5 or any step is high-risk,
// and low otherwise. Approval is required for medium or high overall risk,
// or whenever any high-risk step exists.
func Assess(steps []Step) Assessment {
	var total int
	var high []string

	for _, s := range steps {
		total += riskScore(s.RiskLevel)
		if s.RiskLevel == RiskHigh {
			high = append(high, stepTitle(s))
		}
	}

	var avg float64
	if len(steps) > 0 {
		avg = float64(total) / float64(len(steps))
	}

	var overall RiskLevel
	switch {
	case avg >= 2.5 || len(high) >= 2:
		overall = RiskHigh
	case avg >= 1.5 || len(high) >= 1:
		overall = RiskMedium
	default:
		overall = RiskLow
	}

	return Assessment{
		OverallRisk:      overall,
		HighRiskSteps:    high,
		AvgRiskScore:     avg,
		ApprovalRequired: overall != RiskLow || len(high) > 0,
	}
}

// ApprovalReasons returns the de-duplicated union of the explicit reasons
// and one reason per step that is both high-risk and flagged
// requires_approval, preserving first-seen order. Approval is required
// exactly when the returned list is non-empty.
func ApprovalReasons(steps []Step, explicit []string) []string {
	seen := make(map[string]struct{})
	var reasons []string

	add := func(r string) {
		if r == "" {
			return
		}
		if _, ok := seen[r]; ok {
			return
		}
		seen[r] = struct{}{}
		reasons = append(reasons, r)
	}

	for _, r := range explicit {
		add(r)
	}

	for _, s := range steps {
		if s.RiskLevel == RiskHigh && s.RequiresApproval {
			add("High-risk step requires approval: " + stepTitle(s))
		}
	}

	return reasons
}

func stepTitle(s Step) string {
	if s.Title != "" {
		return s.Title
	}
	return fmt.Sprintf("Step %d", s.Step)
}
