package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/binbot/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.Notifier escribiendo una línea por evento.
type Console struct {
	out io.Writer
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// NotifyTrade imprime el resultado de un paso de cadena.
func (c *Console) NotifyTrade(_ context.Context, r domain.TradeResult) error {
	now := r.SettledAt.Local().Format("15:04:05")
	if !r.Executed {
		fmt.Fprintf(c.out, "[%s] %s %s %dm → %s: %s\n",
			now, r.SignalAsset, r.Direction, r.Expiry, domain.OutcomeAborted, r.Reason)
		slog.Info("notify: trade aborted", "asset", r.SignalAsset, "reason", r.Reason)
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s %s %dm G%d stake $%s → %s $%s | acc $%s",
		now, r.Asset, r.Direction, r.Expiry, r.GaleLevel,
		r.StakeUsed.StringFixed(2), r.Outcome, r.Profit.StringFixed(2), r.Cumulative.StringFixed(2))
	if r.Assumed {
		fmt.Fprintf(&sb, " (assumed: %s)", r.Reason)
	}
	if status, ok := r.Policy["status"]; ok {
		fmt.Fprintf(&sb, " [%v]", status)
	}
	fmt.Fprintln(c.out, sb.String())
	return nil
}

// NotifyStatus imprime una transición de estado.
func (c *Console) NotifyStatus(_ context.Context, ev domain.StatusEvent) error {
	fmt.Fprintf(c.out, "[%s] %s %s: %s\n",
		ev.At.Local().Format("15:04:05"), ev.Component, ev.Status, ev.Message)
	return nil
}

// PrintReport imprime los últimos trades y los totales por sesión.
func (c *Console) PrintReport(trades []domain.TradeResult, sessions []domain.SessionSummary) {
	if len(trades) == 0 && len(sessions) == 0 {
		fmt.Fprintln(c.out, "\n  No trades journaled yet.")
		return
	}

	fmt.Fprintf(c.out, "\n")
	fmt.Fprintf(c.out, "========================================================\n")
	fmt.Fprintf(c.out, "  TRADE REPORT (%d sessions, last %d trades)\n", len(sessions), len(trades))
	fmt.Fprintf(c.out, "========================================================\n\n")

	if len(sessions) > 0 {
		tbl := tablewriter.NewWriter(c.out)
		tbl.Header("Session", "Policy", "Started", "Duration", "Trades", "W", "L", "Win%", "Assumed", "Net", "Stop")
		for _, s := range sessions {
			tbl.Append(
				shortID(s.ID),
				s.Policy,
				s.StartedAt.Local().Format("01-02 15:04"),
				durationLabel(s),
				fmt.Sprintf("%d", s.Trades),
				fmt.Sprintf("%d", s.Wins),
				fmt.Sprintf("%d", s.Losses),
				fmt.Sprintf("%.1f", s.WinRate()),
				fmt.Sprintf("%d", s.Assumed),
				"$"+s.NetProfit.StringFixed(2),
				stopLabel(s.StopReason),
			)
		}
		tbl.Render()
	}

	if len(trades) > 0 {
		fmt.Fprintf(c.out, "\n  --- RECENT TRADES ---\n")
		tbl := tablewriter.NewWriter(c.out)
		tbl.Header("Time", "Asset", "Dir", "Exp", "Gale", "Stake", "Result", "Profit", "Acc")
		for _, r := range trades {
			result := string(r.Outcome)
			if r.Assumed {
				result += "*"
			}
			asset := r.Asset
			if asset == "" {
				asset = r.SignalAsset
			}
			tbl.Append(
				r.SettledAt.Local().Format("01-02 15:04:05"),
				asset,
				string(r.Direction),
				fmt.Sprintf("%dm", r.Expiry),
				fmt.Sprintf("%d", r.GaleLevel),
				"$"+r.StakeUsed.StringFixed(2),
				result,
				"$"+r.Profit.StringFixed(2),
				"$"+r.Cumulative.StringFixed(2),
			)
		}
		tbl.Render()
		fmt.Fprintf(c.out, "  * pérdida asumida (sin confirmación del broker)\n")
	}

	fmt.Fprintln(c.out)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func durationLabel(s domain.SessionSummary) string {
	if s.EndedAt == nil {
		return "running"
	}
	return s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
}

func stopLabel(r domain.StopReason) string {
	if r == domain.StopNone {
		return "-"
	}
	return string(r)
}
