// Package resolver traduce el activo que emite una estrategia al instrumento
// que realmente está abierto en el broker.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/alejandrodnm/binbot/internal/domain"
)

// ExpiryLister consulta las expiraciones ofrecidas por instrumento.
type ExpiryLister interface {
	ListAvailableExpiries(ctx context.Context, instrument string, kind domain.OptionKind) ([]int, error)
}

// Resolver combina la cache de instrumentos con la verificación de expiración.
type Resolver struct {
	cache    *Cache
	expiries ExpiryLister
}

func New(cache *Cache, expiries ExpiryLister) *Resolver {
	return &Resolver{cache: cache, expiries: expiries}
}

// Resolve prueba, en orden: nombre exacto, variantes "-op" y "-OTC", y
// coincidencia normalizada por prefijo. Los activos no OTC además deben
// ofrecer la expiración pedida; los OTC se dan por válidos una vez abiertos.
func (r *Resolver) Resolve(ctx context.Context, signalAsset string, expiryMinutes int) (domain.ResolvedAsset, error) {
	snap, err := r.cache.Snapshot()
	if err != nil {
		return domain.ResolvedAsset{}, fmt.Errorf("resolver.Resolve: %w", err)
	}

	matches := candidates(snap.Open, signalAsset)
	if len(matches) == 0 {
		return domain.ResolvedAsset{}, fmt.Errorf("resolver.Resolve: %s: %w", signalAsset, domain.ErrAssetNotOpen)
	}

	var lastErr error
	for _, m := range matches {
		if m.OTC {
			return m, nil
		}
		offered, err := r.expiries.ListAvailableExpiries(ctx, m.Name, m.Kind)
		if err != nil {
			if errors.Is(err, domain.ErrConnectionClosed) {
				return domain.ResolvedAsset{}, fmt.Errorf("resolver.Resolve: expiries %s: %w", m.Name, err)
			}
			lastErr = fmt.Errorf("resolver.Resolve: expiries %s/%s: %w", m.Name, m.Kind, err)
			continue
		}
		if slices.Contains(offered, expiryMinutes) {
			return m, nil
		}
		lastErr = fmt.Errorf("resolver.Resolve: %s/%s does not offer M%d: %w",
			m.Name, m.Kind, expiryMinutes, domain.ErrExpiryUnavailable)
	}
	return domain.ResolvedAsset{}, lastErr
}

// candidates devuelve los (activo, kind) abiertos que coinciden, en orden de
// preferencia y sin duplicados.
func candidates(open domain.OpenInstruments, signalAsset string) []domain.ResolvedAsset {
	name := strings.TrimSpace(signalAsset)
	upper := strings.ToUpper(name)
	base := domain.BaseSymbol(name)

	var out []domain.ResolvedAsset
	seen := make(map[string]bool)
	add := func(kind domain.OptionKind, n string) {
		key := string(kind) + "|" + n
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, domain.ResolvedAsset{Name: n, Kind: kind, OTC: domain.IsOTC(n)})
	}

	exact := []string{name, upper, upper + "-op", upper + "-OTC"}
	for _, n := range exact {
		for _, kind := range domain.Kinds {
			if open.Has(kind, n) {
				add(kind, n)
			}
		}
	}

	if base == "" {
		return out
	}
	// normalizado: primero igualdad de símbolo base, luego prefijo
	for _, prefixOnly := range []bool{false, true} {
		for _, kind := range domain.Kinds {
			for _, n := range open.Names(kind) {
				nb := domain.BaseSymbol(n)
				if (!prefixOnly && nb == base) || (prefixOnly && strings.HasPrefix(nb, base)) {
					add(kind, n)
				}
			}
		}
	}
	return out
}
