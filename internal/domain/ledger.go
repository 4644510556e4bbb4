package domain

import "github.com/shopspring/decimal"

// StopReason explica por qué se paró el engine.
type StopReason string

const (
	StopNone        StopReason = ""
	StopWinReached  StopReason = "stop_win"
	StopLossReached StopReason = "stop_loss"
	StopPolicyDone  StopReason = "policy_exhausted"
	StopConnection  StopReason = "connection_failure"
	StopManual      StopReason = "manual"
	StopShutdown    StopReason = "shutdown"
)

// Ledger es el P&L acumulado de la sesión.
type Ledger struct {
	CumulativeProfit decimal.Decimal
	Wins             int
	Losses           int
	Breakevens       int
}

// Record suma un profit liquidado al ledger.
func (l *Ledger) Record(profit decimal.Decimal) {
	l.CumulativeProfit = l.CumulativeProfit.Add(profit)
	switch OutcomeFor(profit) {
	case OutcomeWin:
		l.Wins++
	case OutcomeLoss:
		l.Losses++
	default:
		l.Breakevens++
	}
}

// Reset deja el ledger a cero para una sesión nueva.
func (l *Ledger) Reset() {
	*l = Ledger{}
}

// StopConditions son los umbrales globales de la sesión, ambos en magnitud positiva.
type StopConditions struct {
	StopWin  decimal.Decimal
	StopLoss decimal.Decimal
}

// Evaluate es una función pura del profit acumulado.
// Un umbral a cero queda desactivado.
func (s StopConditions) Evaluate(cumulative decimal.Decimal) StopReason {
	if s.StopWin.IsPositive() && cumulative.GreaterThanOrEqual(s.StopWin) {
		return StopWinReached
	}
	if s.StopLoss.IsPositive() && cumulative.LessThanOrEqual(s.StopLoss.Abs().Neg()) {
		return StopLossReached
	}
	return StopNone
}
