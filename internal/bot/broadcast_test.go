package bot

import (
	"testing"

	"afml/internal/models"
)

type recordingBroadcaster struct {
	steps       []*models.StepRecord
	emergencies []string
}

func (r *recordingBroadcaster) BroadcastStep(rec *models.StepRecord) {
	r.steps = append(r.steps, rec)
}

func (r *recordingBroadcaster) BroadcastEmergency(reason string, outcome *models.EmergencyOutcome) {
	r.emergencies = append(r.emergencies, reason)
}

func TestMultiBroadcasterFanOut(t *testing.T) {
	a := &recordingBroadcaster{}
	b := &recordingBroadcaster{}
	m := NewMultiBroadcaster(a, nil, b)

	m.BroadcastStep(&models.StepRecord{Step: 1})
	m.BroadcastEmergency("Max drawdown: 18.00%", nil)

	for _, r := range []*recordingBroadcaster{a, b} {
		if len(r.steps) != 1 || r.steps[0].Step != 1 {
			t.Errorf("expected one step record, got %d", len(r.steps))
		}
		if len(r.emergencies) != 1 || r.emergencies[0] != "Max drawdown: 18.00%" {
			t.Errorf("expected one emergency, got %v", r.emergencies)
		}
	}
}

func TestMultiBroadcasterEmpty(t *testing.T) {
	m := NewMultiBroadcaster(nil)
	// Не должен паниковать без получателей
	m.BroadcastStep(&models.StepRecord{})
	m.BroadcastEmergency("reason", nil)
}
