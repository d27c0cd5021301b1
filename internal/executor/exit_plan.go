package executor

import (
	"github.com/alanyoungcy/tradeguard/internal/domain"
	"github.com/alanyoungcy/tradeguard/internal/risk"
)

// TrailKindRMultiple trails the runner's stop a fixed number of risk units
// behind the best price.
const TrailKindRMultiple = "r_multiple"

// ExitPlanFor derives the automated exit instructions from a sizing result.
// The plan is fixed at execution and travels with the position.
func ExitPlanFor(sizing risk.PositionSizeResult) domain.ExitPlan {
	return domain.ExitPlan{
		StopLossPrice:                  sizing.StopLossPrice(),
		Target1Price:                   sizing.Target1Price(),
		Target1Shares:                  sizing.Target1Shares(),
		RunnerShares:                   sizing.RunnerShares(),
		MoveStopToBreakevenAfterTarget: true,
		RunnerTrailing: domain.TrailRule{
			Kind:     TrailKindRMultiple,
			Distance: sizing.PerShareRisk(),
		},
	}
}
