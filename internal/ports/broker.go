package ports

import (
	"context"

	"github.com/alejandrodnm/binbot/internal/domain"
	"github.com/shopspring/decimal"
)

// Broker es la frontera con el venue remoto. Cualquier llamada puede devolver
// un error que envuelve domain.ErrConnectionClosed si la sesión se cae.
type Broker interface {
	// Connect abre (o reabre) la única sesión con el broker.
	Connect(ctx context.Context) error

	// Probe es un round-trip ligero para comprobar que la sesión sigue viva.
	Probe(ctx context.Context) error

	// SubmitOrder coloca la orden y devuelve el ID asignado por el broker.
	// Un rechazo envuelve domain.ErrOrderRejected.
	SubmitOrder(ctx context.Context, order domain.Order) (string, error)

	// PollResult consulta el estado de una orden. Settled=false mientras no expire.
	PollResult(ctx context.Context, orderID string, kind domain.OptionKind) (domain.Settlement, error)

	// ListOpenInstruments devuelve los instrumentos abiertos por tipo de opción.
	ListOpenInstruments(ctx context.Context) (map[domain.OptionKind][]string, error)

	// ListAvailableExpiries devuelve las expiraciones (minutos) ofrecidas hoy.
	ListAvailableExpiries(ctx context.Context, instrument string, kind domain.OptionKind) ([]int, error)
}

// PayoutQuoter es opcional: los brokers que lo implementan informan el payout
// vigente de un instrumento como fracción (0.87 = 87%).
type PayoutQuoter interface {
	Payout(ctx context.Context, instrument string, kind domain.OptionKind) (decimal.Decimal, error)
}
