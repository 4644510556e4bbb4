package bridge

import "github.com/shopspring/decimal"

type connectRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Mode     string `json:"mode,omitempty"`
}

type connectResponse struct {
	Token   string          `json:"token"`
	Balance decimal.Decimal `json:"balance"`
	Mode    string          `json:"mode"`
}

type probeResponse struct {
	OK         bool  `json:"ok"`
	ServerTime int64 `json:"server_time"`
}

type orderRequest struct {
	Instrument string          `json:"instrument"`
	Kind       string          `json:"kind"`
	Direction  string          `json:"direction"`
	Amount     decimal.Decimal `json:"amount"`
	Expiry     int             `json:"expiry_minutes"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// resultResponse: status "open" mientras la opción no expire.
type resultResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Profit decimal.Decimal `json:"profit"`
}

type instrumentsResponse struct {
	Instruments map[string][]string `json:"instruments"`
}

type expiriesResponse struct {
	Expiries []int `json:"expiries"`
}

type payoutResponse struct {
	Payout decimal.Decimal `json:"payout"` // fracción
}
