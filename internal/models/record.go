package models

import "time"

// Типы действий агента после интерпретации скалярной акции
const (
	ActionLong  = "long"
	ActionShort = "short"
	ActionHold  = "hold"
)

// Операции торгового цикла
// Противоположный сигнал при открытой позиции только закрывает её,
// никогда не разворачивает - одна операция за шаг
const (
	OpOpenLong      = "open_long"
	OpIncreaseLong  = "increase_long"
	OpCloseLong     = "close_long"
	OpOpenShort     = "open_short"
	OpIncreaseShort = "increase_short"
	OpCloseShort    = "close_short"
	OpHold          = "hold"
)

// Статусы шага торгового цикла
const (
	StepStatusOK        = "ok"
	StepStatusRejected  = "rejected"
	StepStatusFailed    = "failed"
	StepStatusEmergency = "emergency"
)

// Стороны позиции
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// StepRecord - одна строка журнала на итерацию торгового цикла
//
// Схема фиксирована: читатели журнала полагаются ровно на этот набор
// колонок. Отсутствующие значения пишутся явным пустым маркером,
// никогда не опускаются. Запись неизменяема после создания.
//
// Опциональные числовые поля - указатели: nil означает "не применимо
// на этом шаге" (например, цена входа при отсутствии позиции).
type StepRecord struct {
	// Окружение
	Timestamp time.Time `json:"timestamp"`
	Step      int64     `json:"step"`
	Action    float64   `json:"action"`
	Price     float64   `json:"price"`
	Status    string    `json:"status"`

	// Портфель
	Balance       float64  `json:"balance"`
	Equity        float64  `json:"equity"`
	MaxDrawdown   float64  `json:"max_drawdown"`
	TotalPnL      float64  `json:"total_pnl"`
	PositionOpen  bool     `json:"position_open"`
	PositionSide  string   `json:"position_side,omitempty"`
	PositionEntry *float64 `json:"position_entry,omitempty"`
	PositionQty   *float64 `json:"position_qty,omitempty"`
	UnrealizedPnL *float64 `json:"unrealized_pnl,omitempty"`

	// Операция
	ActionType string   `json:"action_type"`
	Operation  string   `json:"operation"`
	Success    *bool    `json:"success,omitempty"`
	Error      string   `json:"error,omitempty"`
	TradeID    string   `json:"trade_id,omitempty"`
	EntryPrice *float64 `json:"entry_price,omitempty"`
	Quantity   *float64 `json:"quantity,omitempty"`

	// Верификация (детект рассинхронизации с биржей)
	Verified     *bool    `json:"verified,omitempty"`
	EquityBefore *float64 `json:"equity_before,omitempty"`
	EquityAfter  *float64 `json:"equity_after,omitempty"`
}

// EmergencyRecord - одна строка на активацию протокола экстренного
// закрытия. Создаётся ровно один раз победителем claim'а, неизменяема.
type EmergencyRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	Reason          string    `json:"reason"`
	FinalBalance    float64   `json:"final_balance"`
	FinalEquity     float64   `json:"final_equity"`
	PositionsClosed int       `json:"positions_closed"`
	Details         string    `json:"details,omitempty"`
}

// EmergencyOutcome - результат выполнения протокола экстренного закрытия
type EmergencyOutcome struct {
	FinalBalance    float64  `json:"final_balance"`
	FinalEquity     float64  `json:"final_equity"`
	PositionsClosed int      `json:"positions_closed"`
	Errors          []string `json:"errors,omitempty"`
}

// Successful возвращает true если все позиции закрылись без ошибок
func (o *EmergencyOutcome) Successful() bool {
	return len(o.Errors) == 0
}

// SessionStats - диагностическая статистика сессии из журнала
type SessionStats struct {
	TotalSteps    int     `json:"total_steps"`
	Operations    int     `json:"operations"`
	InitialEquity float64 `json:"initial_equity"`
	FinalEquity   float64 `json:"final_equity"`
	MaxDrawdown   float64 `json:"max_drawdown"`
}

// Float64Ptr хелпер для опциональных полей записи
func Float64Ptr(v float64) *float64 { return &v }

// BoolPtr хелпер для опциональных полей записи
func BoolPtr(v bool) *bool { return &v }
