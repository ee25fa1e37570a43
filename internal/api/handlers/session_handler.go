package handlers

import (
	"net/http"

	"afml/internal/service"
)

// SessionHandler обрабатывает HTTP запросы о торговой сессии.
//
// Endpoints:
// - GET /api/v1/session - состояние сессии (включая экстренное закрытие)
// - GET /api/v1/session/stats - статистика из журнала сессии
type SessionHandler struct {
	sessionService service.SessionServiceInterface
}

// NewSessionHandler создает новый SessionHandler с внедрением зависимостей.
func NewSessionHandler(sessionService service.SessionServiceInterface) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
	}
}

// GetSession возвращает текущее состояние сессии.
//
// GET /api/v1/session
//
// Response 200 OK:
//
//	{
//	  "session_id": "20260314_103000",
//	  "symbol": "BTCUSDT",
//	  "state": "trading",
//	  "monitor_state": "WATCHING",
//	  "emergency_claimed": false,
//	  "can_restart": true
//	}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.sessionService.Status())
}

// GetStats возвращает статистику сессии из журнала.
//
// GET /api/v1/session/stats
//
// Response 200 OK:
//
//	{
//	  "total_steps": 120,
//	  "operations": 14,
//	  "initial_equity": 10000,
//	  "final_equity": 10180.5,
//	  "max_drawdown": 0.046
//	}
func (h *SessionHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.sessionService.Stats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read session log: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
