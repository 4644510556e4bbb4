package domain

import "errors"

var (
	// ErrConnectionClosed es un fallo de transporte transitorio (socket caído).
	ErrConnectionClosed = errors.New("connection closed")

	// Rechazos a nivel broker: abortan la cadena actual, sin reintento.
	ErrOrderRejected     = errors.New("order rejected")
	ErrAssetNotOpen      = errors.New("asset not open")
	ErrExpiryUnavailable = errors.New("expiry unavailable")

	ErrInstrumentsNotLoaded = errors.New("open instruments not loaded yet")
	ErrInvalidConfig        = errors.New("invalid configuration")

	ErrEngineNotRunning = errors.New("engine not running")
	ErrSessionActive    = errors.New("session already running")
	ErrAssetBusy        = errors.New("asset busy")
	ErrQueueFull        = errors.New("trade queue full")
	ErrNewsBlackout     = errors.New("news blackout")
)
