package app

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/MrWong99/voxlate/internal/config"
	"github.com/MrWong99/voxlate/internal/history"
	"github.com/MrWong99/voxlate/pkg/audio"
	"github.com/MrWong99/voxlate/pkg/provider/translate"
)

// maxBodyBytes bounds request bodies of the control API.
const maxBodyBytes = 64 << 10

// defaultHistoryLimit is used by GET /api/history without ?limit.
const defaultHistoryLimit = 50

// StatusResponse is the body of the start, stop and status endpoints.
type StatusResponse struct {
	Active          bool             `json:"active"`
	Session         *SessionInfo     `json:"session,omitempty"`
	Target          translate.Target `json:"target"`
	LastError       string           `json:"last_error,omitempty"`
	HistoryDegraded bool             `json:"history_degraded"`
}

// LanguagesResponse is the body of GET /api/languages.
type LanguagesResponse struct {
	Languages []translate.Target `json:"languages"`
	Target    string             `json:"target"`
}

type targetRequest struct {
	Language string `json:"language"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Register adds the control API and the UI event stream to mux.
func (a *App) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/start", a.handleStart)
	mux.HandleFunc("POST /api/stop", a.handleStop)
	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.HandleFunc("PUT /api/target", a.handleTarget)
	mux.HandleFunc("GET /api/history", a.handleHistory)
	mux.HandleFunc("GET /api/languages", a.handleLanguages)
	mux.Handle("GET /ws", a.hub)
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Start(r.Context()); err != nil {
		status := http.StatusInternalServerError
		var devErr *audio.DeviceError
		switch {
		case errors.As(err, &devErr), errors.Is(err, ErrClosed):
			status = http.StatusServiceUnavailable
		case errors.Is(err, config.ErrUnknownLanguage):
			status = http.StatusBadRequest
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, a.status())
}

func (a *App) handleStop(w http.ResponseWriter, _ *http.Request) {
	if err := a.sessions.Stop(); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, a.status())
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.status())
}

func (a *App) status() StatusResponse {
	snap := a.sessions.Snapshot()
	res := StatusResponse{
		Active:          snap.Active,
		Target:          snap.Target,
		HistoryDegraded: a.HistoryDegraded(),
	}
	if snap.Active {
		info := snap.Info
		res.Session = &info
	}
	if snap.Err != nil {
		res.LastError = snap.Err.Error()
	}
	return res
}

func (a *App) handleTarget(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read body: " + err.Error()})
		return
	}
	var req targetRequest
	if err := sonic.Unmarshal(body, &req); err != nil || req.Language == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: `body must be {"language": "<name>"}`})
		return
	}
	switch err := a.sessions.SetTarget(req.Language); {
	case errors.Is(err, ErrSessionActive):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "stop the session before changing the target language"})
	case errors.Is(err, config.ErrUnknownLanguage):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, a.status())
	}
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		entries []history.Entry
		err     error
	)
	if id := q.Get("session"); id != "" {
		entries, err = a.guard.BySession(r.Context(), id)
	} else {
		limit := defaultHistoryLimit
		if s := q.Get("limit"); s != "" {
			n, perr := strconv.Atoi(s)
			if perr != nil || n < 0 {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		entries, err = a.guard.Recent(r.Context(), limit)
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *App) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	cfg := a.sessions.Config()
	res := LanguagesResponse{Languages: make([]translate.Target, 0, len(cfg.Languages))}
	for _, l := range cfg.Languages {
		res.Languages = append(res.Languages, l.Target())
	}
	if t, err := a.sessions.Target(); err == nil {
		res.Target = t.Name
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		slog.Error("api: encode response", "err", err)
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
