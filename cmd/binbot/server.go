package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alejandrodnm/binbot/internal/application/executor"
	"github.com/alejandrodnm/binbot/internal/domain"
)

// engine es lo que la superficie HTTP necesita del executor.
type engine interface {
	Submit(req domain.TradeRequest) error
	Snapshot() executor.Snapshot
	Pause(ctx context.Context)
	Resume(ctx context.Context)
	StartSession(ctx context.Context, sc executor.SessionConfig) (string, error)
	StopSession(ctx context.Context)
}

// api expone señales, estado y control de sesión.
type api struct {
	eng     engine
	session executor.SessionConfig
}

func newServer(addr string, eng engine, session executor.SessionConfig, metrics, ws http.Handler) *http.Server {
	a := &api{eng: eng, session: session}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /trades", a.submit)
	mux.HandleFunc("GET /status", a.status)
	mux.HandleFunc("POST /pause", a.pause)
	mux.HandleFunc("POST /resume", a.resume)
	mux.HandleFunc("POST /session/start", a.startSession)
	mux.HandleFunc("POST /session/stop", a.stopSession)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	if ws != nil {
		mux.Handle("GET /ws", ws)
	}

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (a *api) submit(w http.ResponseWriter, r *http.Request) {
	var req domain.TradeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	dir, err := domain.ParseDirection(string(req.Direction))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.Direction = dir

	if err := a.eng.Submit(req); err != nil {
		writeError(w, submitStatus(err), err)
		return
	}
	slog.Debug("http: trade accepted", "asset", req.SignalAsset, "direction", req.Direction)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (a *api) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.eng.Snapshot())
}

func (a *api) pause(w http.ResponseWriter, r *http.Request) {
	a.eng.Pause(r.Context())
	writeJSON(w, http.StatusOK, a.eng.Snapshot())
}

func (a *api) resume(w http.ResponseWriter, r *http.Request) {
	a.eng.Resume(r.Context())
	writeJSON(w, http.StatusOK, a.eng.Snapshot())
}

func (a *api) startSession(w http.ResponseWriter, r *http.Request) {
	id, err := a.eng.StartSession(r.Context(), a.session)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrSessionActive):
			status = http.StatusConflict
		case errors.Is(err, domain.ErrInvalidConfig):
			status = http.StatusBadRequest
		case errors.Is(err, domain.ErrEngineNotRunning):
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (a *api) stopSession(w http.ResponseWriter, r *http.Request) {
	a.eng.StopSession(r.Context())
	writeJSON(w, http.StatusOK, a.eng.Snapshot())
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrAssetBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrEngineNotRunning):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("http: encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
