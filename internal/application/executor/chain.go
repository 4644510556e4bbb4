package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/alejandrodnm/binbot/internal/domain"
	"github.com/alejandrodnm/binbot/internal/domain/staking"
	"github.com/alejandrodnm/binbot/internal/ports"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// process lleva una petición hasta el final de su cadena. Un panic en la
// cadena se registra y el worker sigue con la siguiente petición.
func (e *Executor) process(ctx context.Context, item queued) {
	keys := []string{item.key}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("executor: panic in trade chain",
				"asset", item.req.SignalAsset,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
		e.release(keys...)
	}()

	e.mu.Lock()
	running := e.state.Running
	sessionID := e.state.SessionID
	policy := e.policy
	e.mu.Unlock()

	req := item.req
	if !running {
		slog.Info("executor: dropping queued request, engine not running", "asset", req.SignalAsset)
		return
	}

	base := domain.TradeResult{
		SessionID:   sessionID,
		SignalAsset: req.SignalAsset,
		Direction:   req.Direction,
		Expiry:      req.ExpiryMinutes,
		Context:     req.Context,
	}

	if e.news != nil {
		if ev, blocked := e.news.Blocked(req.SignalAsset, time.Now()); blocked {
			slog.Warn("executor: trade blocked by news",
				"asset", req.SignalAsset,
				"currency", ev.Currency,
				"news_at", ev.Time.Format("15:04"),
				"impact", ev.Impact,
			)
			e.publish(ctx, e.aborted(base, fmt.Errorf("%s %s at %s: %w",
				ev.Currency, ev.Title, ev.Time.Format("15:04"), domain.ErrNewsBlackout)))
			return
		}
	}

	resolved, err := e.resolver.Resolve(ctx, req.SignalAsset, req.ExpiryMinutes)
	if err != nil {
		slog.Warn("executor: asset not resolved", "asset", req.SignalAsset, "expiry", req.ExpiryMinutes, "err", err)
		e.publish(ctx, e.aborted(base, err))
		return
	}
	base.Asset = resolved.Name

	if rk := domain.AssetKey(resolved.Name); rk != item.key {
		if !e.acquire(rk) {
			slog.Warn("executor: resolved asset busy", "asset", req.SignalAsset, "resolved", resolved.Name)
			e.publish(ctx, e.aborted(base, fmt.Errorf("%s: %w", resolved.Name, domain.ErrAssetBusy)))
			return
		}
		keys = append(keys, rk)
	}

	e.runChain(ctx, sessionID, policy, base, resolved)
}

// runChain ejecuta pasos (entrada inicial + gales) mientras la política lo pida.
func (e *Executor) runChain(ctx context.Context, sessionID string, policy staking.Policy, base domain.TradeResult, resolved domain.ResolvedAsset) {
	for gale := 0; ; gale++ {
		if ctx.Err() != nil || !e.sessionActive(sessionID) {
			return
		}

		payout := e.payoutFor(ctx, resolved)
		stake := policy.NextStake(staking.Context{Payout: payout})
		if !stake.IsPositive() {
			e.halt(ctx, domain.StopPolicyDone, policy.Name()+" has no stake to offer")
			return
		}

		res := e.step(ctx, base, resolved, stake, gale)
		if !res.Executed {
			e.publish(ctx, res)
			return
		}

		policy.RecordOutcome(stake, res.Profit)
		cumulative, recorded := e.record(sessionID, res.Profit)
		res.Cumulative = cumulative
		res.Policy = policy.Summary()
		e.publish(ctx, res)

		if !recorded {
			return
		}
		if reason := e.stopReason(cumulative); reason != domain.StopNone {
			e.halt(ctx, reason, "cumulative profit "+cumulative.StringFixed(2))
			return
		}
		if policy.IsExhausted() {
			e.halt(ctx, domain.StopPolicyDone, policy.Name()+" exhausted")
			return
		}

		gc, ok := policy.(staking.GaleChainer)
		if !ok || !gc.GaleDue() {
			return
		}
		slog.Info("executor: gale due", "asset", resolved.Name, "next_level", gale+1)
	}
}

// step coloca una orden y espera su liquidación.
func (e *Executor) step(ctx context.Context, base domain.TradeResult, resolved domain.ResolvedAsset, stake decimal.Decimal, gale int) domain.TradeResult {
	res := base
	res.ID = uuid.New().String()
	res.GaleLevel = gale
	res.StakeUsed = stake

	if e.conn != nil && !e.conn.IsConnected() {
		slog.Warn("executor: broker disconnected, waiting before submit", "asset", resolved.Name)
		if !e.conn.WaitForRestoration(ctx, e.cfg.RestoreCeiling) {
			return e.aborted(res, fmt.Errorf("submit: %w", domain.ErrConnectionClosed))
		}
	}

	order := domain.Order{
		Instrument: resolved.Name,
		Kind:       resolved.Kind,
		Direction:  base.Direction,
		Stake:      stake,
		Expiry:     base.Expiry,
		PlacedAt:   time.Now().UTC(),
	}
	actx, cancel := context.WithTimeout(ctx, e.cfg.AckTimeout)
	orderID, err := e.broker.SubmitOrder(actx, order)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("no acknowledgement after %s: %w", e.cfg.AckTimeout, domain.ErrOrderRejected)
		}
		slog.Warn("executor: order rejected",
			"asset", resolved.Name,
			"stake", stake.StringFixed(2),
			"gale", gale,
			"err", err,
		)
		return e.aborted(res, err)
	}

	res.OrderID = orderID
	res.Executed = true
	slog.Info("executor: order placed",
		"order", orderID,
		"asset", resolved.Name,
		"kind", resolved.Kind,
		"direction", base.Direction,
		"stake", stake.StringFixed(2),
		"expiry", base.Expiry,
		"gale", gale,
	)

	profit, assumed, reason := e.awaitSettlement(ctx, orderID, resolved.Kind, base.Expiry, stake)
	res.Profit = profit
	res.Assumed = assumed
	res.Reason = reason
	res.Outcome = domain.OutcomeFor(profit)
	res.SettledAt = time.Now().UTC()

	slog.Info("executor: order settled",
		"order", orderID,
		"asset", resolved.Name,
		"outcome", res.Outcome,
		"profit", profit.StringFixed(2),
		"assumed", assumed,
	)
	return res
}

// awaitSettlement consulta el resultado cada PollInterval hasta la expiración
// más el margen. Si la conexión cae, espera la restauración hasta
// RestoreCeiling en total. Sin confirmación se asume la pérdida de la entrada.
func (e *Executor) awaitSettlement(ctx context.Context, orderID string, kind domain.OptionKind, expiry int, stake decimal.Decimal) (decimal.Decimal, bool, string) {
	loss := stake.Neg()
	deadline := time.Now().Add(time.Duration(expiry)*e.cfg.ExpiryUnit + e.cfg.SettlementGrace)
	pollCtx := context.WithoutCancel(ctx)

	var waited time.Duration
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		cctx, cancel := context.WithTimeout(pollCtx, e.cfg.AckTimeout)
		st, err := e.broker.PollResult(cctx, orderID, kind)
		cancel()

		switch {
		case err == nil && st.Settled:
			return st.Profit, false, ""

		case errors.Is(err, domain.ErrConnectionClosed):
			remaining := e.cfg.RestoreCeiling - waited
			if remaining <= 0 || e.conn == nil {
				return loss, true, "restoration ceiling exceeded"
			}
			slog.Warn("executor: connection dropped while awaiting settlement",
				"order", orderID,
				"remaining_wait", remaining.Round(time.Millisecond),
			)
			start := time.Now()
			ok := e.conn.WaitForRestoration(ctx, remaining)
			waited += time.Since(start)
			if !ok {
				if ctx.Err() != nil {
					return loss, true, "shutdown while awaiting settlement"
				}
				return loss, true, "connection not restored"
			}

		case err != nil:
			slog.Warn("executor: poll failed", "order", orderID, "err", err)
		}

		if time.Now().After(deadline.Add(waited)) {
			slog.Warn("executor: settlement timed out", "order", orderID, "expiry", expiry)
			return loss, true, "settlement timeout"
		}

		select {
		case <-ctx.Done():
			return loss, true, "shutdown while awaiting settlement"
		case <-ticker.C:
		}
	}
}

// payoutFor pide el payout al broker si sabe cotizarlo.
func (e *Executor) payoutFor(ctx context.Context, resolved domain.ResolvedAsset) decimal.Decimal {
	e.mu.Lock()
	fallback := e.defaultPayout
	e.mu.Unlock()

	q, ok := e.broker.(ports.PayoutQuoter)
	if !ok {
		return fallback
	}
	p, err := q.Payout(ctx, resolved.Name, resolved.Kind)
	if err != nil || !p.IsPositive() {
		slog.Debug("executor: payout quote unavailable, using default",
			"asset", resolved.Name,
			"default", fallback.String(),
			"err", err,
		)
		return fallback
	}
	return p
}

// record suma el profit al ledger si la sesión sigue siendo la misma.
func (e *Executor) record(sessionID string, profit decimal.Decimal) (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.SessionID != sessionID {
		return e.ledger.CumulativeProfit, false
	}
	e.ledger.Record(profit)
	return e.ledger.CumulativeProfit, true
}

func (e *Executor) stopReason(cumulative decimal.Decimal) domain.StopReason {
	e.mu.Lock()
	stops := e.stops
	e.mu.Unlock()
	return stops.Evaluate(cumulative)
}

func (e *Executor) aborted(res domain.TradeResult, err error) domain.TradeResult {
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	res.Outcome = domain.OutcomeAborted
	res.Executed = false
	res.Reason = err.Error()
	res.SettledAt = time.Now().UTC()
	return res
}

// publish guarda el resultado y avisa a los colaboradores. Se ejecuta aunque
// ctx esté cancelado para no perder el rastro del capital.
func (e *Executor) publish(ctx context.Context, res domain.TradeResult) {
	ctx = context.WithoutCancel(ctx)
	if e.storage != nil {
		if err := e.storage.SaveTrade(ctx, res); err != nil {
			slog.Warn("executor: journal trade failed", "id", res.ID, "err", err)
		}
	}
	if e.notifier != nil {
		if err := e.notifier.NotifyTrade(ctx, res); err != nil {
			slog.Warn("executor: notify trade failed", "id", res.ID, "err", err)
		}
	}
}

func (e *Executor) acquire(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.busy[key]; busy {
		return false
	}
	e.busy[key] = struct{}{}
	return true
}

func (e *Executor) release(keys ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, k := range keys {
		delete(e.busy, k)
	}
}
