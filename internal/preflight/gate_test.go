package preflight

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

func TestState(t *testing.T) {
	t.Parallel()
	g := NewGate()

	assert.Equal(t, NotStarted, g.State(domain.PreflightAnswers{}))
	assert.Equal(t, PartiallyConfirmed, g.State(domain.PreflightAnswers{CalmFocused: true}))
	assert.Equal(t, PartiallyConfirmed, g.State(domain.PreflightAnswers{CalmFocused: true, RiskAccepted: true}))
	assert.Equal(t, Confirmed, g.State(domain.PreflightAnswers{CalmFocused: true, LossLimitDefined: true, RiskAccepted: true}))
}

func TestConfirmRejectsAnyMissingAnswer(t *testing.T) {
	t.Parallel()
	g := NewGate()
	now := time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		answers domain.PreflightAnswers
		missing []string
	}{
		{"calm missing", domain.PreflightAnswers{LossLimitDefined: true, RiskAccepted: true}, []string{ItemCalmFocused}},
		{"loss limit missing", domain.PreflightAnswers{CalmFocused: true, RiskAccepted: true}, []string{ItemLossLimitDefined}},
		{"risk missing", domain.PreflightAnswers{CalmFocused: true, LossLimitDefined: true}, []string{ItemRiskAccepted}},
		{"all missing", domain.PreflightAnswers{}, []string{ItemCalmFocused, ItemLossLimitDefined, ItemRiskAccepted}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Confirm(tt.answers, "trader-1", now)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrPreflightRejected))

			var rej *domain.RejectedError
			require.True(t, errors.As(err, &rej))
			assert.Equal(t, ReasonIncomplete, rej.Reason)
			assert.Equal(t, tt.missing, rej.Missing)
		})
	}
}

func TestConfirmWritesRecord(t *testing.T) {
	t.Parallel()
	g := NewGate()
	now := time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC)
	answers := domain.PreflightAnswers{CalmFocused: true, LossLimitDefined: true, RiskAccepted: true}

	rec, err := g.Confirm(answers, "trader-1", now)
	require.NoError(t, err)
	assert.Equal(t, domain.PreflightRecord{
		CalmFocused:      true,
		LossLimitDefined: true,
		RiskAccepted:     true,
		ConfirmedAt:      now,
		ConfirmedBy:      "trader-1",
	}, rec)
}
