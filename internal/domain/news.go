package domain

import (
	"strconv"
	"strings"
	"time"
)

// NewsEvent es una noticia económica de impacto publicada por el calendario.
type NewsEvent struct {
	Currency string
	Time     time.Time
	Impact   string
	Title    string
}

// BlackoutWindow es la ventana [inicio, fin] en la que no se opera.
type BlackoutWindow struct {
	Event NewsEvent
	Start time.Time
	End   time.Time
}

// Contains incluye ambos extremos.
func (w BlackoutWindow) Contains(at time.Time) bool {
	return !at.Before(w.Start) && !at.After(w.End)
}

// WindowFor calcula la ventana de bloqueo de una noticia.
func WindowFor(ev NewsEvent, before, after time.Duration) BlackoutWindow {
	return BlackoutWindow{Event: ev, Start: ev.Time.Add(-before), End: ev.Time.Add(after)}
}

// AssetCurrencies devuelve las dos divisas de un par ("EURUSD-OTC" → EUR, USD).
// Activos que no son pares de 6 letras devuelven el símbolo entero.
func AssetCurrencies(asset string) []string {
	base := BaseSymbol(asset)
	if len(base) >= 6 {
		return []string{base[:3], base[3:6]}
	}
	return []string{base}
}

// AffectsAsset indica si la noticia toca alguna divisa del activo.
func (ev NewsEvent) AffectsAsset(asset string) bool {
	cur := strings.ToUpper(ev.Currency)
	for _, c := range AssetCurrencies(asset) {
		if c == cur {
			return true
		}
	}
	return false
}

// ImpactLevel traduce el impacto publicado a 1–3 (Low, Medium, High).
// Acepta también el número de "toros" directamente. Desconocido es 0.
func ImpactLevel(impact string) int {
	switch strings.ToLower(strings.TrimSpace(impact)) {
	case "low":
		return 1
	case "medium":
		return 2
	case "high":
		return 3
	}
	n, err := strconv.Atoi(strings.TrimSpace(impact))
	if err != nil || n < 0 {
		return 0
	}
	return min(n, 3)
}
