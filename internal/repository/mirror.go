package repository

import (
	"database/sql"
	"strings"
	"time"

	"afml/internal/models"
	"afml/pkg/utils"
)

// Mirror дублирует события сессии в PostgreSQL
//
// Реализует интерфейс рассыльщика торгового ядра: каждая запись шага
// и экстренного события зеркалируется в таблицы. Сбой зеркала только
// логируется - первичный носитель журнала остаётся CSV.
type Mirror struct {
	steps       *StepRepository
	emergencies *EmergencyRepository
	sessionID   string
	logger      *utils.Logger
}

// NewMirror создает зеркало журнала для указанной сессии
func NewMirror(db *sql.DB, sessionID string) *Mirror {
	return &Mirror{
		steps:       NewStepRepository(db),
		emergencies: NewEmergencyRepository(db),
		sessionID:   sessionID,
		logger:      utils.L().WithComponent("mirror"),
	}
}

// BroadcastStep зеркалирует запись шага
func (m *Mirror) BroadcastStep(rec *models.StepRecord) {
	if err := m.steps.Create(m.sessionID, rec); err != nil {
		m.logger.Warn("step mirror failed: " + err.Error())
	}
}

// BroadcastEmergency зеркалирует экстренное событие
func (m *Mirror) BroadcastEmergency(reason string, outcome *models.EmergencyOutcome) {
	rec := &models.EmergencyRecord{
		Timestamp: time.Now(),
		Reason:    reason,
	}
	if outcome != nil {
		rec.FinalBalance = outcome.FinalBalance
		rec.FinalEquity = outcome.FinalEquity
		rec.PositionsClosed = outcome.PositionsClosed
		rec.Details = strings.Join(outcome.Errors, "; ")
	}
	if err := m.emergencies.Create(m.sessionID, rec); err != nil {
		m.logger.Warn("emergency mirror failed: " + err.Error())
	}
}
