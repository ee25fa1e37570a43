package bot

import "afml/internal/models"

// MultiBroadcaster рассылает каждое событие нескольким получателям
// (WebSocket hub и зеркало базы данных) в порядке регистрации.
type MultiBroadcaster struct {
	targets []Broadcaster
}

// NewMultiBroadcaster объединяет получателей; nil-элементы игнорируются
func NewMultiBroadcaster(targets ...Broadcaster) *MultiBroadcaster {
	m := &MultiBroadcaster{}
	for _, t := range targets {
		if t != nil {
			m.targets = append(m.targets, t)
		}
	}
	return m
}

func (m *MultiBroadcaster) BroadcastStep(rec *models.StepRecord) {
	for _, t := range m.targets {
		t.BroadcastStep(rec)
	}
}

func (m *MultiBroadcaster) BroadcastEmergency(reason string, outcome *models.EmergencyOutcome) {
	for _, t := range m.targets {
		t.BroadcastEmergency(reason, outcome)
	}
}
