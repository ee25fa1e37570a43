package websocket

import (
	"afml/internal/models"
)

// Типы исходящих сообщений
const (
	TypeStepUpdate   = "stepUpdate"
	TypeEmergency    = "emergency"
	TypeStatsUpdate  = "statsUpdate"
	TypeSessionState = "sessionState"
)

// Типизированные сообщения: без map[string]interface{}, сериализация
// по известным типам без лишней рефлексии

// StepUpdateMessage - завершённый шаг торгового цикла
type StepUpdateMessage struct {
	Type string             `json:"type"`
	Step *models.StepRecord `json:"step"`
}

// EmergencyMessage - активация экстренного закрытия
type EmergencyMessage struct {
	Type    string                   `json:"type"`
	Reason  string                   `json:"reason"`
	Outcome *models.EmergencyOutcome `json:"outcome,omitempty"`
}

// StatsUpdateMessage - агрегированная статистика сессии
type StatsUpdateMessage struct {
	Type  string               `json:"type"`
	Stats *models.SessionStats `json:"stats"`
}

// SessionStateMessage - переход состояния сессии
type SessionStateMessage struct {
	Type  string `json:"type"`
	State string `json:"state"`
	Info  string `json:"info,omitempty"`
}
