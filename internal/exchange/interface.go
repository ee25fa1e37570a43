package exchange

import (
	"context"
	"fmt"
	"time"
)

// Exchange определяет интерфейс биржи для торгового ядра
//
// Конкретный транспорт (подписанный REST) - внешний коллаборатор;
// ядро видит только эти операции. Все методы с сетевым вводом-выводом
// принимают context для отмены.
type Exchange interface {
	// Connect устанавливает соединение и настраивает аккаунт (плечо)
	Connect(ctx context.Context, apiKey, secret string) error

	// GetName возвращает имя биржи
	GetName() string

	// GetAccount получает состояние фьючерсного аккаунта
	GetAccount(ctx context.Context) (*AccountInfo, error)

	// GetOpenPositions получает список открытых позиций
	GetOpenPositions(ctx context.Context) ([]*Position, error)

	// GetMarkPrice получает текущую mark price инструмента
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	// PlaceMarketOrder размещает рыночный ордер
	PlaceMarketOrder(ctx context.Context, symbol, side string, qty float64) (*Order, error)

	// ClosePosition закрывает позицию reduce-only ордером
	ClosePosition(ctx context.Context, pos *Position) (*Order, error)

	// Close закрывает соединения с биржей
	Close() error
}

// AccountInfo - состояние фьючерсного аккаунта
type AccountInfo struct {
	Balance       float64   `json:"balance"`        // баланс кошелька в USDT
	Equity        float64   `json:"equity"`         // баланс + нереализованный PnL
	UnrealizedPnL float64   `json:"unrealized_pnl"` // суммарный нереализованный PnL
	UpdatedAt     time.Time `json:"updated_at"`
}

// Position представляет открытую позицию
type Position struct {
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"` // "LONG" или "SHORT"
	Quantity      float64   `json:"quantity"`
	EntryPrice    float64   `json:"entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	Leverage      int       `json:"leverage"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Order представляет исполненный или отклонённый ордер
type Order struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"` // "BUY" или "SELL"
	Quantity     float64   `json:"quantity"`
	FilledQty    float64   `json:"filled_qty"`
	AvgFillPrice float64   `json:"avg_fill_price"`
	Status       string    `json:"status"` // "filled", "partial", "rejected"
	CreatedAt    time.Time `json:"created_at"`
}

// Стороны ордера
const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"
)

// APIError представляет ошибку уровня API биржи
//
// Биржа ответила, но отклонила запрос: плохие параметры, недостаточный
// баланс, невалидная подпись. Повтор такого запроса не может помочь,
// поэтому класс ошибки - permanent. Транспортные сбои (таймаут,
// connection reset) до APIError не доходят и классифицируются
// transient, кроме rate limit (Code 429 / -1003): его биржа тоже
// отдаёт как API-ответ, но он проходит после паузы.
type APIError struct {
	Exchange string
	Code     int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: api error %d: %s", e.Exchange, e.Code, e.Message)
}

// Transient реализует retry.Classifiable
func (e *APIError) Transient() bool {
	return e.rateLimited()
}

func (e *APIError) rateLimited() bool {
	// Binance: -1003 TOO_MANY_REQUESTS, -1015 слишком много ордеров;
	// HTTP 429/418 транслируются в эти же коды транспортом
	return e.Code == -1003 || e.Code == -1015 || e.Code == 429
}

// TransportError представляет сетевой сбой до получения ответа биржи
type TransportError struct {
	Exchange string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Exchange, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transient реализует retry.Classifiable
func (e *TransportError) Transient() bool {
	return true
}
