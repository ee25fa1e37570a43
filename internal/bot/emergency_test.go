package bot

import (
	"sync"
	"testing"

	"afml/internal/models"
)

// TestEmergencyState_SingleWinner проверяет, что при конкурентных
// claim'ах побеждает ровно один участник
func TestEmergencyState_SingleWinner(t *testing.T) {
	state := NewEmergencyState()

	const claimers = 100
	var wg sync.WaitGroup
	wins := make(chan int, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if state.TryClaim(DrawdownReason(0.18)) {
				wins <- id
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []int
	for id := range wins {
		winners = append(winners, id)
	}
	if len(winners) != 1 {
		t.Fatalf("winners = %d, want exactly 1", len(winners))
	}
	if !state.IsClaimed() {
		t.Error("IsClaimed() = false after claim")
	}
}

func TestEmergencyState_ClaimNeverReverts(t *testing.T) {
	state := NewEmergencyState()

	if !state.TryClaim("first reason") {
		t.Fatal("first TryClaim() = false")
	}
	if state.TryClaim("second reason") {
		t.Error("second TryClaim() = true, want false")
	}
	if got := state.Reason(); got != "first reason" {
		t.Errorf("Reason() = %q, want first claim preserved", got)
	}
	if !state.IsClaimed() {
		t.Error("claim reverted")
	}
}

func TestEmergencyState_Unclaimed(t *testing.T) {
	state := NewEmergencyState()

	if state.IsClaimed() {
		t.Error("IsClaimed() = true on fresh state")
	}
	if state.Reason() != "" {
		t.Errorf("Reason() = %q, want empty", state.Reason())
	}
	if state.Outcome() != nil {
		t.Error("Outcome() != nil before protocol")
	}
}

func TestEmergencyState_Outcome(t *testing.T) {
	state := NewEmergencyState()
	state.TryClaim(DrawdownReason(0.2))

	o := &models.EmergencyOutcome{PositionsClosed: 3, FinalEquity: 8000}
	state.RecordOutcome(o)

	got := state.Outcome()
	if got == nil || got.PositionsClosed != 3 {
		t.Errorf("Outcome() = %+v, want recorded outcome", got)
	}
}

// TestEmergencyState_CanRestart проверяет гейт перезапуска: просадка
// терминальна, остальные причины перезапуск допускают
func TestEmergencyState_CanRestart(t *testing.T) {
	tests := []struct {
		name   string
		reason string // "" - без claim'а
		want   bool
	}{
		{name: "no claim", reason: "", want: true},
		{name: "drawdown is terminal", reason: DrawdownReason(0.18), want: false},
		{name: "exchange rejection allows restart", reason: "order rejected by exchange: margin", want: true},
		{name: "connection loss allows restart", reason: "connection lost", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := NewEmergencyState()
			if tt.reason != "" {
				state.TryClaim(tt.reason)
			}
			if got := state.CanRestart(); got != tt.want {
				t.Errorf("CanRestart() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDrawdownReason_Format(t *testing.T) {
	if got := DrawdownReason(0.18); got != "Max drawdown: 18.00%" {
		t.Errorf("DrawdownReason(0.18) = %q", got)
	}
	if got := DrawdownReason(0.1567); got != "Max drawdown: 15.67%" {
		t.Errorf("DrawdownReason(0.1567) = %q", got)
	}
}
