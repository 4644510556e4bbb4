package notify

import (
	"context"
	"errors"

	"github.com/alejandrodnm/binbot/internal/domain"
	"github.com/alejandrodnm/binbot/internal/ports"
)

// Multi reparte cada evento a todos los notificadores, en orden. Un fallo no
// impide avisar a los siguientes.
type Multi []ports.Notifier

func (m Multi) NotifyTrade(ctx context.Context, r domain.TradeResult) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyTrade(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyStatus(ctx context.Context, ev domain.StatusEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyStatus(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
