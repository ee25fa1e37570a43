// Package service агрегирует состояние торговой сессии для API слоя.
package service

import (
	"time"

	"afml/internal/audit"
	"afml/internal/bot"
	"afml/internal/models"
)

// SessionStatus - снимок состояния сессии для внешних потребителей
type SessionStatus struct {
	SessionID        string                   `json:"session_id"`
	Symbol           string                   `json:"symbol"`
	StartedAt        time.Time                `json:"started_at"`
	State            string                   `json:"state"`
	StateInfo        string                   `json:"state_info"`
	MonitorState     string                   `json:"monitor_state"`
	EmergencyClaimed bool                     `json:"emergency_claimed"`
	EmergencyReason  string                   `json:"emergency_reason,omitempty"`
	Outcome          *models.EmergencyOutcome `json:"outcome,omitempty"`
	CanRestart       bool                     `json:"can_restart"`
}

// SessionServiceInterface позволяет подменять сервис в тестах handlers
type SessionServiceInterface interface {
	Status() *SessionStatus
	Stats() (*models.SessionStats, error)
}

// SessionService отдаёт статус и статистику текущей сессии
//
// Читает только разделяемое состояние и журнал, сам ничего не меняет:
// API - наблюдатель торгового ядра, не участник.
type SessionService struct {
	log       *audit.SessionLog
	state     *bot.EmergencyState
	monitor   *bot.Monitor
	symbol    string
	startedAt time.Time
}

// NewSessionService создает новый сервис сессии
func NewSessionService(log *audit.SessionLog, state *bot.EmergencyState, monitor *bot.Monitor, symbol string, startedAt time.Time) *SessionService {
	return &SessionService{
		log:       log,
		state:     state,
		monitor:   monitor,
		symbol:    symbol,
		startedAt: startedAt,
	}
}

// Status возвращает текущее состояние сессии
func (s *SessionService) Status() *SessionStatus {
	status := &SessionStatus{
		SessionID:        s.log.SessionID(),
		Symbol:           s.symbol,
		StartedAt:        s.startedAt,
		MonitorState:     string(s.monitor.State()),
		EmergencyClaimed: s.state.IsClaimed(),
		CanRestart:       s.state.CanRestart(),
	}

	switch {
	case !s.state.IsClaimed():
		status.State = models.SessionTrading
	case s.state.Outcome() == nil:
		status.State = models.SessionEmergency
	default:
		status.State = models.SessionDone
	}
	status.StateInfo = bot.StateInfo(status.State)

	if s.state.IsClaimed() {
		status.EmergencyReason = s.state.Reason()
		status.Outcome = s.state.Outcome()
	}

	return status
}

// Stats читает статистику сессии из журнала
func (s *SessionService) Stats() (*models.SessionStats, error) {
	return audit.ReadStats(s.log.StepsPath())
}
