package staking

import (
	"errors"
	"testing"

	"github.com/alejandrodnm/binbot/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestCycle(t *testing.T, profile Profile) *CyclePolicy {
	t.Helper()
	p, err := NewCycle(CycleConfig{
		BaseStake:        d("10"),
		MartingaleFactor: d("2"),
		MinStake:         d("1"),
		Profile:          profile,
	})
	require.NoError(t, err)
	return p
}

var payout87 = Context{Payout: d("0.87")}

func TestCycle_GalesThenRecovery(t *testing.T) {
	p := newTestCycle(t, Aggressive)

	assert.Equal(t, "10", p.NextStake(payout87).String())
	p.RecordOutcome(d("10"), d("-10"))
	assert.True(t, p.GaleDue())
	assert.Equal(t, "20", p.NextStake(payout87).String())

	p.RecordOutcome(d("20"), d("-20"))
	assert.Equal(t, "40", p.NextStake(payout87).String())

	// tercera pérdida: supera maxGales=2 y cierra el ciclo
	p.RecordOutcome(d("40"), d("-40"))
	st := p.State()
	assert.Equal(t, 0, st.GaleLevel)
	assert.Equal(t, 1, st.LostCycles)
	assert.True(t, d("70").Equal(st.AccumulatedLoss))
	assert.False(t, p.GaleDue())

	// recuperación: 70 * 1.0 / 0.87
	assert.Equal(t, "80.46", p.NextStake(payout87).StringFixed(2))
}

func TestCycle_WinResetsEverything(t *testing.T) {
	p := newTestCycle(t, Aggressive)
	p.RecordOutcome(d("10"), d("-10"))
	p.RecordOutcome(d("20"), d("17.4"))

	st := p.State()
	assert.Zero(t, st.GaleLevel)
	assert.Zero(t, st.LostCycles)
	assert.True(t, st.AccumulatedLoss.IsZero())
	assert.Equal(t, "10", p.NextStake(payout87).String())
}

func TestCycle_BreakevenCountsAsLoss(t *testing.T) {
	p := newTestCycle(t, Aggressive)
	p.RecordOutcome(d("10"), decimal.Zero)
	assert.Equal(t, 1, p.State().GaleLevel)
	assert.True(t, p.GaleDue())
}

func TestCycle_GaleLevelNeverExceedsMax(t *testing.T) {
	for _, prof := range []Profile{Aggressive, Conservative} {
		t.Run(prof.Name, func(t *testing.T) {
			p := newTestCycle(t, prof)
			for i := 0; i < 20 && !p.IsExhausted(); i++ {
				stake := p.NextStake(payout87)
				p.RecordOutcome(stake, stake.Neg())
				assert.LessOrEqual(t, p.State().GaleLevel, prof.MaxGalesPerCycle)
			}
		})
	}
}

func TestCycle_ExhaustedAfterMaxLostCycles(t *testing.T) {
	p := newTestCycle(t, Conservative)

	// conservative: 1 gale por ciclo, 2 ciclos perdidos
	for i := 0; i < 4; i++ {
		require.False(t, p.IsExhausted(), "trade %d", i)
		stake := p.NextStake(payout87)
		p.RecordOutcome(stake, stake.Neg())
	}
	assert.True(t, p.IsExhausted())
	assert.True(t, p.NextStake(payout87).IsZero())
	assert.False(t, p.GaleDue())

	// inactiva hasta reset: ni una victoria la reactiva
	p.RecordOutcome(d("10"), d("8.7"))
	assert.True(t, p.IsExhausted())

	p.Reset()
	assert.False(t, p.IsExhausted())
	assert.Equal(t, "10", p.NextStake(payout87).String())
}

func TestCycle_ConservativeRecoversHalf(t *testing.T) {
	p := newTestCycle(t, Conservative)
	p.RecordOutcome(d("10"), d("-10"))
	p.RecordOutcome(d("20"), d("-20"))

	// 30 * 0.5 / 0.87 = 17.24
	assert.Equal(t, "17.24", p.NextStake(payout87).StringFixed(2))
}

func TestCycle_NonPositivePayoutFallsBackToBase(t *testing.T) {
	p := newTestCycle(t, Conservative)
	p.RecordOutcome(d("10"), d("-10"))
	p.RecordOutcome(d("20"), d("-20"))
	assert.Equal(t, "10", p.NextStake(Context{}).String())
}

func TestCycle_MinStakeFloor(t *testing.T) {
	p, err := NewCycle(CycleConfig{
		BaseStake:        d("0.5"),
		MartingaleFactor: d("2"),
		MinStake:         d("1"),
		Profile:          Aggressive,
	})
	require.NoError(t, err)
	assert.Equal(t, "1", p.NextStake(payout87).String())
}

func TestCycleConfig_Validate(t *testing.T) {
	_, err := NewCycle(CycleConfig{BaseStake: d("10"), MartingaleFactor: d("0.5"), Profile: Aggressive})
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig))

	_, err = NewCycle(CycleConfig{MartingaleFactor: d("2"), Profile: Aggressive})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = ProfileByName("yolo")
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	prof, err := ProfileByName(" Conservative ")
	require.NoError(t, err)
	assert.Equal(t, Conservative.Name, prof.Name)
}
