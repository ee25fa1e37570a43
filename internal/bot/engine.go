package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"afml/internal/agent"
	"afml/internal/audit"
	"afml/internal/exchange"
	"afml/internal/models"
	"afml/pkg/utils"
)

// Broadcaster рассылает события сессии подписчикам (WebSocket hub)
// nil-реализация допустима: рассылка - необязательный потребитель
type Broadcaster interface {
	BroadcastStep(rec *models.StepRecord)
	BroadcastEmergency(reason string, outcome *models.EmergencyOutcome)
}

// EngineConfig - параметры торгового цикла
type EngineConfig struct {
	Symbol           string
	StepInterval     time.Duration
	HoldThreshold    float64 // порог интерпретации действия
	PositionFraction float64 // доля баланса на позицию при |action|=1
	MinQuantity      float64 // минимальный размер ордера биржи
}

// Engine - торговый цикл: наблюдение, политика, исполнение, журнал
//
// Держит собственный DrawdownTracker; с монитором разделяет только
// EmergencyState. Каждая итерация заканчивается записью в журнал,
// и только после записи проверяется claim экстренного закрытия -
// последняя строка сессии всегда на диске до останова.
type Engine struct {
	gw        ExchangeGateway
	policy    agent.Policy
	log       *audit.SessionLog
	state     *EmergencyState
	protocol  *Protocol
	broadcast Broadcaster
	cfg       EngineConfig
	logger    *utils.Logger

	tracker DrawdownTracker
	step    int64
}

// NewEngine создаёт торговый цикл
func NewEngine(gw ExchangeGateway, policy agent.Policy, log *audit.SessionLog, state *EmergencyState, protocol *Protocol, broadcast Broadcaster, cfg EngineConfig) *Engine {
	if cfg.StepInterval <= 0 {
		cfg.StepInterval = time.Minute
	}
	if cfg.HoldThreshold <= 0 {
		cfg.HoldThreshold = agent.DefaultHoldThreshold
	}
	if cfg.PositionFraction <= 0 {
		cfg.PositionFraction = 0.1
	}
	return &Engine{
		gw:        gw,
		policy:    policy,
		log:       log,
		state:     state,
		protocol:  protocol,
		broadcast: broadcast,
		cfg:       cfg,
		logger:    utils.L().WithComponent("engine"),
	}
}

// Run выполняет торговый цикл до отмены контекста или claim'а
// экстренного закрытия
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.StepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		e.runStep(ctx)

		// Проверка claim'а строго после записи шага: последняя строка
		// журнала уже на диске, останов ничего не теряет
		if e.state.IsClaimed() {
			e.logger.Info("trading stopped: " + e.state.Reason())
			return
		}
	}
}

// runStep выполняет одну итерацию и гарантированно пишет её в журнал
func (e *Engine) runStep(ctx context.Context) {
	e.step++
	rec := e.executeStep(ctx)
	rec.Step = e.step
	rec.Timestamp = time.Now()

	if err := e.log.AppendStep(rec); err != nil {
		// Сбой журнала не останавливает торговлю
		auditFailuresTotal.Inc()
		e.logger.Error(fmt.Sprintf("step %d not logged: %v", e.step, err))
	}
	stepsTotal.WithLabelValues(rec.Status).Inc()

	if e.broadcast != nil {
		e.broadcast.BroadcastStep(rec)
	}
}

// executeStep собирает наблюдение, спрашивает политику и исполняет
// операцию. Всегда возвращает запись шага, даже при сбоях.
func (e *Engine) executeStep(ctx context.Context) *models.StepRecord {
	rec := &models.StepRecord{
		Status:     models.StepStatusOK,
		ActionType: models.ActionHold,
		Operation:  models.OpHold,
	}

	account, err := e.gw.GetAccount(ctx)
	if err != nil {
		rec.Status = models.StepStatusFailed
		rec.Error = fmt.Sprintf("get account: %v", err)
		return rec
	}

	positions, err := e.gw.GetOpenPositions(ctx)
	if err != nil {
		rec.Status = models.StepStatusFailed
		rec.Error = fmt.Sprintf("get positions: %v", err)
		return rec
	}

	var pos *exchange.Position
	for _, p := range positions {
		if p.Symbol == e.cfg.Symbol {
			pos = p
			break
		}
	}

	e.tracker.Update(account.Equity)

	rec.Balance = account.Balance
	rec.Equity = account.Equity
	rec.MaxDrawdown = e.tracker.MaxDrawdown()
	rec.TotalPnL = account.UnrealizedPnL
	if pos != nil {
		rec.PositionOpen = true
		rec.PositionSide = pos.Side
		rec.PositionEntry = models.Float64Ptr(pos.EntryPrice)
		rec.PositionQty = models.Float64Ptr(pos.Quantity)
		rec.UnrealizedPnL = models.Float64Ptr(pos.UnrealizedPnL)
		rec.Price = pos.MarkPrice
	}

	if rec.Price == 0 {
		price, perr := e.gw.GetMarkPrice(ctx, e.cfg.Symbol)
		if perr != nil {
			rec.Status = models.StepStatusFailed
			rec.Error = fmt.Sprintf("get mark price: %v", perr)
			return rec
		}
		rec.Price = price
	}

	obs := agent.Observation{
		Step:    e.step,
		Price:   rec.Price,
		Balance: account.Balance,
		Equity:  account.Equity,
	}
	if pos != nil {
		obs.PositionSide = pos.Side
		obs.PositionQty = pos.Quantity
		obs.PositionPnL = pos.UnrealizedPnL
	}

	action, err := e.policy.Action(ctx, obs)
	if err != nil {
		rec.Status = models.StepStatusFailed
		rec.Error = fmt.Sprintf("policy: %v", err)
		return rec
	}
	rec.Action = action

	positionSide := ""
	if pos != nil {
		positionSide = pos.Side
	}
	decision := agent.Interpret(action, e.cfg.HoldThreshold, positionSide)
	rec.ActionType = decision.ActionType
	rec.Operation = decision.Operation

	if !decision.ShouldExecute {
		return rec
	}

	// Claim мог произойти в середине шага: новые операции запрещены
	if e.state.IsClaimed() {
		rec.Status = models.StepStatusRejected
		rec.Operation = models.OpHold
		rec.Success = models.BoolPtr(false)
		rec.Error = "emergency mode active, trading disabled"
		return rec
	}

	e.execute(ctx, rec, decision, account, pos)
	return rec
}

// execute выполняет торговую операцию и заполняет поля записи
func (e *Engine) execute(ctx context.Context, rec *models.StepRecord, d agent.Decision, account *exchange.AccountInfo, pos *exchange.Position) {
	rec.EquityBefore = models.Float64Ptr(account.Equity)

	var order *exchange.Order
	var err error

	switch d.Operation {
	case models.OpCloseLong, models.OpCloseShort:
		order, err = e.gw.ClosePosition(ctx, pos)

	case models.OpOpenLong, models.OpIncreaseLong, models.OpOpenShort, models.OpIncreaseShort:
		qty := e.orderQuantity(account.Balance, rec.Price, d.Intensity)
		if reason := e.validateOrder(qty, account.Balance); reason != "" {
			rec.Status = models.StepStatusRejected
			rec.Success = models.BoolPtr(false)
			rec.Error = reason
			return
		}
		rec.Quantity = models.Float64Ptr(qty)

		side := exchange.OrderSideBuy
		if d.ActionType == models.ActionShort {
			side = exchange.OrderSideSell
		}
		order, err = e.gw.PlaceMarketOrder(ctx, e.cfg.Symbol, side, qty)
	}

	if err != nil {
		e.handleOrderError(ctx, rec, err)
		return
	}

	rec.Success = models.BoolPtr(true)
	rec.TradeID = order.ID
	if order.AvgFillPrice > 0 {
		rec.EntryPrice = models.Float64Ptr(order.AvgFillPrice)
	}
	operationsTotal.WithLabelValues(d.Operation).Inc()

	// Верификация: изменился ли аккаунт после исполнения. Сбой
	// повторного снимка оставляет поле пустым, не ломая шаг.
	if after, aerr := e.gw.GetAccount(ctx); aerr == nil {
		rec.EquityAfter = models.Float64Ptr(after.Equity)
		rec.Verified = models.BoolPtr(after.Equity != account.Equity || order.FilledQty > 0)
	}
}

// handleOrderError классифицирует сбой исполнения
//
// Permanent отказ биржи - признак рассинхронизации состояния (нехватка
// маржи, неверные параметры): торговать дальше вслепую нельзя, цикл
// заявляет экстренное закрытие. Transient исчерпание повторов - шаг
// failed, следующий шаг попробует снова.
func (e *Engine) handleOrderError(ctx context.Context, rec *models.StepRecord, err error) {
	rec.Success = models.BoolPtr(false)

	var apiErr *exchange.APIError
	if errors.As(err, &apiErr) && !apiErr.Transient() {
		rec.Status = models.StepStatusRejected
		rec.Error = fmt.Sprintf("order rejected: %v", err)

		reason := fmt.Sprintf("order rejected by exchange: %s", apiErr.Message)
		if e.state.TryClaim(reason) {
			e.logger.Error("claiming emergency unwind: " + reason)
			// Протокол сам рассылает событие подписчикам и зеркалу
			e.protocol.Execute(ctx)
		}
		return
	}

	rec.Status = models.StepStatusFailed
	rec.Error = fmt.Sprintf("order failed: %v", err)
}

// orderQuantity рассчитывает размер ордера из доли баланса и интенсивности
func (e *Engine) orderQuantity(balance, price, intensity float64) float64 {
	if price <= 0 {
		return 0
	}
	return balance * e.cfg.PositionFraction * intensity / price
}

// validateOrder проверяет ордер до отправки на биржу
func (e *Engine) validateOrder(qty, balance float64) string {
	if balance <= 0 {
		return "insufficient balance"
	}
	if qty <= 0 {
		return "non-positive order quantity"
	}
	if e.cfg.MinQuantity > 0 && qty < e.cfg.MinQuantity {
		return fmt.Sprintf("quantity %v below exchange minimum %v", qty, e.cfg.MinQuantity)
	}
	return ""
}
