// Package preflight implements the readiness checklist a trader must pass
// before a session may execute.
package preflight

import (
	"time"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// GateState is the checklist progress.
type GateState string

const (
	NotStarted         GateState = "not_started"
	PartiallyConfirmed GateState = "partially_confirmed"
	Confirmed          GateState = "confirmed"
)

// Checklist item names used in RejectedError.Missing.
const (
	ItemCalmFocused      = "calm_focused"
	ItemLossLimitDefined = "loss_limit_defined"
	ItemRiskAccepted     = "risk_accepted"
)

// ReasonIncomplete is the rejection reason when any answer is false.
const ReasonIncomplete = "incomplete"

// Gate validates checklist submissions.
type Gate struct{}

// NewGate returns a Gate.
func NewGate() Gate { return Gate{} }

// State reports how far answers has progressed.
func (Gate) State(a domain.PreflightAnswers) GateState {
	switch len(missing(a)) {
	case 0:
		return Confirmed
	case 3:
		return NotStarted
	default:
		return PartiallyConfirmed
	}
}

// Confirm is the single transition to Confirmed. It returns a record only when
// all three answers are true at submission.
func (Gate) Confirm(a domain.PreflightAnswers, traderID string, now time.Time) (domain.PreflightRecord, error) {
	if m := missing(a); len(m) > 0 {
		return domain.PreflightRecord{}, &domain.RejectedError{Reason: ReasonIncomplete, Missing: m}
	}
	return domain.PreflightRecord{
		CalmFocused:      a.CalmFocused,
		LossLimitDefined: a.LossLimitDefined,
		RiskAccepted:     a.RiskAccepted,
		ConfirmedAt:      now,
		ConfirmedBy:      traderID,
	}, nil
}

func missing(a domain.PreflightAnswers) []string {
	var out []string
	if !a.CalmFocused {
		out = append(out, ItemCalmFocused)
	}
	if !a.LossLimitDefined {
		out = append(out, ItemLossLimitDefined)
	}
	if !a.RiskAccepted {
		out = append(out, ItemRiskAccepted)
	}
	return out
}
