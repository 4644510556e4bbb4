package storage

// sqlite.go: journal de sesiones y trades.
//
//   - `sessions`: una fila por sesión; se cierra con el motivo de parada y el ledger final.
//   - `trades`: una fila por paso de cadena, incluidos los abortados (executed = 0).
//   - Importes como TEXT con 2 decimales: nada de floats en el journal.
//   - Prune al arrancar: sesiones terminadas hace más de 180 días.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/binbot/internal/domain"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT PRIMARY KEY,
    policy      TEXT NOT NULL,
    stop_win    TEXT NOT NULL DEFAULT '0',
    stop_loss   TEXT NOT NULL DEFAULT '0',
    started_at  TEXT NOT NULL,
    ended_at    TEXT,
    stop_reason TEXT NOT NULL DEFAULT '',
    net_profit  TEXT NOT NULL DEFAULT '0',
    wins        INTEGER NOT NULL DEFAULT 0,
    losses      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS trades (
    id           TEXT PRIMARY KEY,
    session_id   TEXT NOT NULL,
    order_id     TEXT NOT NULL DEFAULT '',
    signal_asset TEXT NOT NULL,
    asset        TEXT NOT NULL DEFAULT '',
    direction    TEXT NOT NULL,
    expiry       INTEGER NOT NULL,
    gale_level   INTEGER NOT NULL DEFAULT 0,
    stake        TEXT NOT NULL DEFAULT '0',
    profit       TEXT NOT NULL DEFAULT '0',
    outcome      TEXT NOT NULL,
    executed     INTEGER NOT NULL DEFAULT 0,
    assumed      INTEGER NOT NULL DEFAULT 0,
    reason       TEXT NOT NULL DEFAULT '',
    cumulative   TEXT NOT NULL DEFAULT '0',
    context      TEXT,
    policy       TEXT,
    settled_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_session ON trades(session_id);
CREATE INDEX IF NOT EXISTS idx_trades_settled ON trades(settled_at DESC);
CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(started_at DESC);
`

const (
	retention = 180 * 24 * time.Hour

	// ancho fijo: el orden lexicográfico coincide con el cronológico
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// SQLiteStorage implementa ports.TradeStorage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada,
// aplica el schema y limpia sesiones antiguas.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// SaveSession registra el inicio de una sesión.
func (s *SQLiteStorage) SaveSession(ctx context.Context, rec domain.SessionRecord) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, policy, stop_win, stop_loss, started_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Policy, money(rec.StopWin), money(rec.StopLoss), formatTime(rec.StartedAt),
	); err != nil {
		return fmt.Errorf("storage.SaveSession: insert %s: %w", rec.ID, err)
	}
	return nil
}

// EndSession cierra la sesión con el motivo de parada y el ledger final.
func (s *SQLiteStorage) EndSession(ctx context.Context, sessionID string, endedAt time.Time, reason domain.StopReason, ledger domain.Ledger) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET ended_at = ?, stop_reason = ?, net_profit = ?, wins = ?, losses = ?
		WHERE id = ?
	`, formatTime(endedAt), string(reason), money(ledger.CumulativeProfit), ledger.Wins, ledger.Losses+ledger.Breakevens, sessionID)
	if err != nil {
		return fmt.Errorf("storage.EndSession: update %s: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.EndSession: session %s not found", sessionID)
	}
	return nil
}

// SaveTrade añade un paso de cadena al journal.
func (s *SQLiteStorage) SaveTrade(ctx context.Context, r domain.TradeResult) error {
	ctxJSON, err := marshalOptional(r.Context, len(r.Context))
	if err != nil {
		return fmt.Errorf("storage.SaveTrade: encode context: %w", err)
	}
	policyJSON, err := marshalOptional(r.Policy, len(r.Policy))
	if err != nil {
		return fmt.Errorf("storage.SaveTrade: encode policy: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO trades
			(id, session_id, order_id, signal_asset, asset, direction, expiry,
			 gale_level, stake, profit, outcome, executed, assumed, reason,
			 cumulative, context, policy, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.SessionID, r.OrderID, r.SignalAsset, r.Asset, string(r.Direction), r.Expiry,
		r.GaleLevel, money(r.StakeUsed), money(r.Profit), string(r.Outcome),
		boolToInt(r.Executed), boolToInt(r.Assumed), r.Reason,
		money(r.Cumulative), ctxJSON, policyJSON, formatTime(r.SettledAt),
	); err != nil {
		return fmt.Errorf("storage.SaveTrade: insert %s: %w", r.ID, err)
	}
	return nil
}

// GetRecentTrades devuelve los últimos limit trades, más reciente primero.
func (s *SQLiteStorage) GetRecentTrades(ctx context.Context, limit int) ([]domain.TradeResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, order_id, signal_asset, asset, direction, expiry,
		       gale_level, stake, profit, outcome, executed, assumed, reason,
		       cumulative, context, policy, settled_at
		FROM trades
		ORDER BY settled_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.GetRecentTrades: query: %w", err)
	}
	defer rows.Close()

	var trades []domain.TradeResult
	for rows.Next() {
		var (
			r                   domain.TradeResult
			direction, outcome  string
			stake, profit, cum  string
			executed, assumed   int
			ctxJSON, policyJSON sql.NullString
			settledAt           string
		)
		if err := rows.Scan(
			&r.ID, &r.SessionID, &r.OrderID, &r.SignalAsset, &r.Asset, &direction, &r.Expiry,
			&r.GaleLevel, &stake, &profit, &outcome, &executed, &assumed, &r.Reason,
			&cum, &ctxJSON, &policyJSON, &settledAt,
		); err != nil {
			return nil, fmt.Errorf("storage.GetRecentTrades: scan row: %w", err)
		}

		r.Direction = domain.Direction(direction)
		r.Outcome = domain.Outcome(outcome)
		r.StakeUsed = parseMoney(stake)
		r.Profit = parseMoney(profit)
		r.Cumulative = parseMoney(cum)
		r.Executed = executed == 1
		r.Assumed = assumed == 1
		r.SettledAt = parseTime(settledAt, "trade", r.ID, "settled_at")
		if ctxJSON.Valid {
			if err := json.Unmarshal([]byte(ctxJSON.String), &r.Context); err != nil {
				slog.Warn("storage: corrupt trade column", "id", r.ID, "column", "context", "err", err)
			}
		}
		if policyJSON.Valid {
			if err := json.Unmarshal([]byte(policyJSON.String), &r.Policy); err != nil {
				slog.Warn("storage: corrupt trade column", "id", r.ID, "column", "policy", "err", err)
			}
		}
		trades = append(trades, r)
	}
	return trades, rows.Err()
}

// GetSessionSummaries agrega los trades ejecutados de cada sesión, más reciente primero.
func (s *SQLiteStorage) GetSessionSummaries(ctx context.Context, limit int) ([]domain.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.policy, s.started_at, s.ended_at, s.stop_reason,
		       COUNT(t.id),
		       COALESCE(SUM(CASE WHEN t.outcome = 'WIN' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(t.assumed), 0),
		       COALESCE(SUM(CAST(t.profit AS REAL)), 0)
		FROM sessions s
		LEFT JOIN trades t ON t.session_id = s.id AND t.executed = 1
		GROUP BY s.id
		ORDER BY s.started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.GetSessionSummaries: query: %w", err)
	}
	defer rows.Close()

	var out []domain.SessionSummary
	for rows.Next() {
		var (
			sum             domain.SessionSummary
			startedAt, stop string
			endedAt         sql.NullString
			net             float64
		)
		if err := rows.Scan(&sum.ID, &sum.Policy, &startedAt, &endedAt, &stop,
			&sum.Trades, &sum.Wins, &sum.Assumed, &net); err != nil {
			return nil, fmt.Errorf("storage.GetSessionSummaries: scan row: %w", err)
		}
		sum.StartedAt = parseTime(startedAt, "session", sum.ID, "started_at")
		if endedAt.Valid {
			if t := parseTime(endedAt.String, "session", sum.ID, "ended_at"); !t.IsZero() {
				sum.EndedAt = &t
			}
		}
		sum.StopReason = domain.StopReason(stop)
		sum.Losses = sum.Trades - sum.Wins
		sum.NetProfit = decimal.NewFromFloat(net).Round(2)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

// pruneOld elimina sesiones terminadas fuera de la retención y sus trades.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := formatTime(time.Now().Add(-retention))
	s.db.ExecContext(ctx, `DELETE FROM trades WHERE session_id IN
		(SELECT id FROM sessions WHERE ended_at IS NOT NULL AND ended_at < ?)`, cutoff)
	s.db.ExecContext(ctx, `DELETE FROM sessions WHERE ended_at IS NOT NULL AND ended_at < ?`, cutoff)
}

// formatTime normaliza a UTC.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func parseMoney(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		slog.Warn("storage: invalid amount", "value", s, "err", err)
		return decimal.Zero
	}
	return d
}

// parseTime devuelve el instante cero si la columna no tiene el formato esperado.
func parseTime(s, table, id, column string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		slog.Warn("storage: corrupt "+table+" column", "id", id, "column", column, "err", err)
		return time.Time{}
	}
	return t
}

func marshalOptional(v any, n int) (any, error) {
	if n == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
