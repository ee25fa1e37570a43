// Package api настраивает HTTP поверхность наблюдения за сессией.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"afml/internal/api/handlers"
	"afml/internal/api/middleware"
	"afml/internal/service"
	"afml/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	SessionService service.SessionServiceInterface
	Hub            *websocket.Hub
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	└── /session/
//	    ├── GET / - состояние сессии
//	    └── GET /stats - статистика из журнала
//
// /ws/
//
//	└── /stream - WebSocket для real-time обновлений
//
// /metrics - Prometheus метрики
// /health - health check
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	api := router.PathPrefix("/api/v1").Subrouter()

	if deps != nil && deps.SessionService != nil {
		sessionHandler := handlers.NewSessionHandler(deps.SessionService)
		api.HandleFunc("/session", sessionHandler.GetSession).Methods("GET")
		api.HandleFunc("/session/stats", sessionHandler.GetStats).Methods("GET")
	}

	if deps != nil && deps.Hub != nil {
		hub := deps.Hub
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, w, r)
		})
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
