package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"afml/internal/agent"
	"afml/internal/audit"
	"afml/internal/exchange"
	"afml/internal/models"
)

func constPolicy(action float64) agent.Policy {
	return agent.PolicyFunc(func(ctx context.Context, obs agent.Observation) (float64, error) {
		return action, nil
	})
}

func testEngineConfig() EngineConfig {
	return EngineConfig{
		Symbol:           "BTCUSDT",
		StepInterval:     time.Millisecond,
		HoldThreshold:    0.1,
		PositionFraction: 0.1,
	}
}

func newTestEngine(gw ExchangeGateway, policy agent.Policy, log *audit.SessionLog, state *EmergencyState) *Engine {
	return NewEngine(gw, policy, log, state, NewProtocol(gw, log, state, nil, nil), nil, testEngineConfig())
}

func TestEngine_HoldStepLogsWithoutOrders(t *testing.T) {
	gw := &fakeGateway{balance: 10000, markPrice: 50000}
	log := newTestSessionLog(t)
	e := newTestEngine(gw, constPolicy(0.05), log, NewEmergencyState())

	e.runStep(context.Background())

	if len(gw.placed) != 0 {
		t.Errorf("orders placed = %d, want 0 on hold", len(gw.placed))
	}

	rows := readCSV(t, log.StepsPath())
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want header + 1", len(rows))
	}
	row := rows[1]
	if row[15] != models.OpHold {
		t.Errorf("operacion = %q, want hold", row[15])
	}
	if row[4] != models.StepStatusOK {
		t.Errorf("status = %q, want ok", row[4])
	}
}

func TestEngine_OpensLongPosition(t *testing.T) {
	gw := &fakeGateway{balance: 10000, markPrice: 50000}
	log := newTestSessionLog(t)
	e := newTestEngine(gw, constPolicy(0.8), log, NewEmergencyState())

	e.runStep(context.Background())

	if len(gw.placed) != 1 {
		t.Fatalf("orders placed = %d, want 1", len(gw.placed))
	}
	order := gw.placed[0]
	if order.Side != exchange.OrderSideBuy {
		t.Errorf("side = %q, want BUY", order.Side)
	}
	// 10000 * 0.1 * 0.8 / 50000
	if order.Quantity != 0.016 {
		t.Errorf("quantity = %v, want 0.016", order.Quantity)
	}

	rows := readCSV(t, log.StepsPath())
	row := rows[1]
	if row[15] != models.OpOpenLong {
		t.Errorf("operacion = %q, want open_long", row[15])
	}
	if row[16] != "true" {
		t.Errorf("resultado = %q, want true", row[16])
	}
	if row[18] != "ord-1" {
		t.Errorf("trade_id = %q, want ord-1", row[18])
	}
}

func TestEngine_OppositeSignalClosesNotFlips(t *testing.T) {
	pos := &exchange.Position{
		Symbol: "BTCUSDT", Side: models.SideLong,
		Quantity: 0.5, EntryPrice: 48000, MarkPrice: 50000,
	}
	gw := &fakeGateway{balance: 10000, markPrice: 50000, positions: []*exchange.Position{pos}}
	log := newTestSessionLog(t)
	e := newTestEngine(gw, constPolicy(-0.9), log, NewEmergencyState())

	e.runStep(context.Background())

	if len(gw.closeCalls) != 1 {
		t.Fatalf("closeCalls = %d, want 1", len(gw.closeCalls))
	}
	if len(gw.placed) != 0 {
		t.Error("opened a new position on close signal")
	}

	rows := readCSV(t, log.StepsPath())
	if rows[1][15] != models.OpCloseLong {
		t.Errorf("operacion = %q, want close_long", rows[1][15])
	}
}

func TestEngine_RejectsInvalidOrder(t *testing.T) {
	gw := &fakeGateway{balance: 10000, markPrice: 50000}
	log := newTestSessionLog(t)
	cfg := testEngineConfig()
	cfg.MinQuantity = 0.1 // размер 0.016 ниже минимума
	state := NewEmergencyState()
	e := NewEngine(gw, constPolicy(0.8), log, state, NewProtocol(gw, log, state, nil, nil), nil, cfg)

	e.runStep(context.Background())

	if len(gw.placed) != 0 {
		t.Error("invalid order reached the exchange")
	}
	rows := readCSV(t, log.StepsPath())
	row := rows[1]
	if row[4] != models.StepStatusRejected {
		t.Errorf("status = %q, want rejected", row[4])
	}
	if !strings.Contains(row[17], "minimum") {
		t.Errorf("error = %q, want validation reason", row[17])
	}
}

// TestEngine_PermanentRejectionClaimsEmergency: отказ биржи означает
// рассинхронизацию состояния, цикл заявляет закрытие синхронно
func TestEngine_PermanentRejectionClaimsEmergency(t *testing.T) {
	gw := &fakeGateway{
		balance:   10000,
		markPrice: 50000,
		orderErr:  &exchange.APIError{Exchange: "binance", Code: -2019, Message: "margin is insufficient"},
	}
	log := newTestSessionLog(t)
	state := NewEmergencyState()
	e := newTestEngine(gw, constPolicy(0.8), log, state)

	e.runStep(context.Background())

	if !state.IsClaimed() {
		t.Fatal("permanent rejection did not claim emergency")
	}
	if !strings.Contains(state.Reason(), "margin is insufficient") {
		t.Errorf("Reason() = %q", state.Reason())
	}
	if state.Outcome() == nil {
		t.Error("unwind protocol not executed by the claim winner")
	}

	rows := readCSV(t, log.StepsPath())
	if rows[1][4] != models.StepStatusRejected {
		t.Errorf("status = %q, want rejected", rows[1][4])
	}
}

func TestEngine_TransientFailureDoesNotClaim(t *testing.T) {
	gw := &fakeGateway{
		balance:   10000,
		markPrice: 50000,
		orderErr:  &exchange.TransportError{Exchange: "binance", Op: "order", Err: errors.New("timeout")},
	}
	log := newTestSessionLog(t)
	state := NewEmergencyState()
	e := newTestEngine(gw, constPolicy(0.8), log, state)

	e.runStep(context.Background())

	if state.IsClaimed() {
		t.Error("transient failure claimed emergency")
	}
	rows := readCSV(t, log.StepsPath())
	if rows[1][4] != models.StepStatusFailed {
		t.Errorf("status = %q, want failed", rows[1][4])
	}
}

func TestEngine_AccountFailureLogsStep(t *testing.T) {
	gw := &fakeGateway{accountErr: errors.New("connection reset")}
	log := newTestSessionLog(t)
	e := newTestEngine(gw, constPolicy(0.8), log, NewEmergencyState())

	e.runStep(context.Background())
	e.runStep(context.Background())

	rows := readCSV(t, log.StepsPath())
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2: every step is logged", len(rows))
	}
	for _, row := range rows[1:] {
		if row[4] != models.StepStatusFailed {
			t.Errorf("status = %q, want failed", row[4])
		}
	}
}

// TestEngine_StopsAfterClaimWithFinalRecord: цикл останавливается по
// claim'у, но только после записи текущего шага в журнал
func TestEngine_StopsAfterClaimWithFinalRecord(t *testing.T) {
	gw := &fakeGateway{balance: 10000, markPrice: 50000}
	log := newTestSessionLog(t)
	state := NewEmergencyState()
	state.TryClaim(DrawdownReason(0.18))

	e := newTestEngine(gw, constPolicy(0), log, state)

	done := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() {
		e.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("engine did not stop after claim")
	}

	rows := readCSV(t, log.StepsPath())
	if len(rows) != 2 {
		t.Errorf("rows = %d, want exactly one final step before stop", len(rows))
	}
}

func TestEngine_VerificationFields(t *testing.T) {
	gw := &fakeGateway{
		balance:   10000,
		markPrice: 50000,
		equitySeq: []float64{10000, 10040}, // снимок до и после исполнения
	}
	log := newTestSessionLog(t)
	e := newTestEngine(gw, constPolicy(0.8), log, NewEmergencyState())

	e.runStep(context.Background())

	rows := readCSV(t, log.StepsPath())
	row := rows[1]
	if row[21] != "true" {
		t.Errorf("cambio_verificado = %q, want true", row[21])
	}
	if row[22] != "10000" {
		t.Errorf("equity_previa = %q, want 10000", row[22])
	}
	if row[23] != "10040" {
		t.Errorf("equity_posterior = %q, want 10040", row[23])
	}
}

// Claim может произойти между опросом и исполнением: операция
// отклоняется до отправки на биржу
func TestEngine_ClaimedStateBlocksNewOrders(t *testing.T) {
	gw := &fakeGateway{balance: 10000, markPrice: 50000}
	log := newTestSessionLog(t)
	state := NewEmergencyState()
	state.TryClaim("manual stop")
	e := newTestEngine(gw, constPolicy(0.8), log, state)

	e.runStep(context.Background())

	if len(gw.placed) != 0 {
		t.Error("order placed while emergency is claimed")
	}
	rows := readCSV(t, log.StepsPath())
	row := rows[1]
	if row[4] != models.StepStatusRejected {
		t.Errorf("status = %q, want rejected", row[4])
	}
	if !strings.Contains(row[17], "emergency mode") {
		t.Errorf("error = %q, want emergency-mode reason", row[17])
	}
}

// Отказ биржи в торговом цикле достигает подписчиков через протокол
func TestEngine_PermanentRejectionBroadcastsViaProtocol(t *testing.T) {
	gw := &fakeGateway{
		balance:   10000,
		markPrice: 50000,
		orderErr:  &exchange.APIError{Exchange: "binance", Code: -2019, Message: "margin is insufficient"},
	}
	log := newTestSessionLog(t)
	state := NewEmergencyState()
	rb := &recordingBroadcaster{}
	session := NewSessionTracker(models.SessionTrading, nil)
	protocol := NewProtocol(gw, log, state, rb, session)
	e := NewEngine(gw, constPolicy(0.8), log, state, protocol, rb, testEngineConfig())

	e.runStep(context.Background())

	if len(rb.emergencies) != 1 {
		t.Fatalf("emergency broadcasts = %d, want exactly 1", len(rb.emergencies))
	}
	if session.Current() != models.SessionDone {
		t.Errorf("session state = %q, want done after unwind", session.Current())
	}
}
